package km

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// sealedKey is the on-disk, one-file-per-key representation: material is
// never written in the clear, only the wrapped-DEK envelope and the
// ciphertext it sealed.
type sealedKey struct {
	ID             string         `json:"id"`
	Algorithm      Algorithm      `json:"algorithm"`
	Classification Classification `json:"classification"`
	Purpose        Purpose        `json:"purpose"`
	CommunityID    string         `json:"communityId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	RotatedAt      *time.Time     `json:"rotatedAt,omitempty"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	Status         Status         `json:"status"`
	PredecessorID  string         `json:"predecessorId,omitempty"`
	SuccessorID    string         `json:"successorId,omitempty"`

	// WrappedDEK + MasterKeyRef come from the MasterKeyProvider.
	WrappedDEK   []byte `json:"wrappedDek"`
	MasterKeyRef string `json:"masterKeyRef"`
	// Nonce + Ciphertext seal the key material under the unwrapped DEK.
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const sealedKeyFileMode = 0o600

// fileKeyStore is a directory of one file per key, mode 0600, matching the
// persisted-state layout: "directory of files, one per key ... each
// containing the sealed key material plus metadata".
type fileKeyStore struct {
	mu  sync.RWMutex
	dir string
}

func newFileKeyStore(dir string) (*fileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create key store dir: %v", fgerr.ErrStorageUnavailable, err)
	}
	return &fileKeyStore{dir: dir}, nil
}

func (s *fileKeyStore) path(id string) string {
	return filepath.Join(s.dir, sanitizeKeyID(id)+".json")
}

// sanitizeKeyID strips path separators from an id before it is used to
// build a filesystem path, since key ids may originate from caller input.
func sanitizeKeyID(id string) string {
	id = strings.ReplaceAll(id, string(filepath.Separator), "_")
	return strings.ReplaceAll(id, "..", "_")
}

func (s *fileKeyStore) put(_ context.Context, sk sealedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sk)
	if err != nil {
		return fmt.Errorf("%w: marshal sealed key: %v", fgerr.ErrIntegrity, err)
	}
	if err := os.WriteFile(s.path(sk.ID), data, sealedKeyFileMode); err != nil {
		return fmt.Errorf("%w: write key file: %v", fgerr.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *fileKeyStore) get(_ context.Context, id string) (sealedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return sealedKey{}, fgerr.ErrNotFound
		}
		return sealedKey{}, fmt.Errorf("%w: read key file: %v", fgerr.ErrStorageUnavailable, err)
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return sealedKey{}, fmt.Errorf("%w: unmarshal sealed key: %v", fgerr.ErrIntegrity, err)
	}
	return sk, nil
}

func (s *fileKeyStore) list(_ context.Context) ([]sealedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list key store dir: %v", fgerr.ErrStorageUnavailable, err)
	}

	keys := make([]sealedKey, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: read key file %s: %v", fgerr.ErrStorageUnavailable, e.Name(), err)
		}
		var sk sealedKey
		if err := json.Unmarshal(data, &sk); err != nil {
			return nil, fmt.Errorf("%w: unmarshal key file %s: %v", fgerr.ErrIntegrity, e.Name(), err)
		}
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *fileKeyStore) delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete key file: %v", fgerr.ErrStorageUnavailable, err)
	}
	return nil
}
