package km

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/altairalabs/finguard/internal/fgerr"
)

const (
	vaultDefaultMountPath   = "transit"
	vaultHTTPClientTimeout  = 30 * time.Second
	vaultTokenHeader        = "X-Vault-Token"
)

// vaultMasterKeyProvider wraps DEKs via HashiCorp Vault's Transit secrets
// engine encrypt/decrypt endpoints, which natively operate on arbitrary
// byte payloads — a DEK is simply "data" to Transit.
type vaultMasterKeyProvider struct {
	httpClient *http.Client
	addr       string
	token      string
	mountPath  string
	keyName    string
}

func newVaultMasterKeyProvider(cfg MasterKeyConfig) (*vaultMasterKeyProvider, error) {
	addr := cfg.Credentials["vault-addr"]
	token := cfg.Credentials["vault-token"]
	if addr == "" || token == "" {
		return nil, fmt.Errorf("%w: vault-transit requires vault-addr and vault-token", fgerr.ErrInvalidInput)
	}
	if cfg.KeyRef == "" {
		return nil, fmt.Errorf("%w: vault-transit key name is required", fgerr.ErrInvalidInput)
	}
	mountPath := cfg.Credentials["mount-path"]
	if mountPath == "" {
		mountPath = vaultDefaultMountPath
	}

	return &vaultMasterKeyProvider{
		httpClient: &http.Client{Timeout: vaultHTTPClientTimeout},
		addr:       addr,
		token:      token,
		mountPath:  mountPath,
		keyName:    cfg.KeyRef,
	}, nil
}

func (p *vaultMasterKeyProvider) WrapDEK(ctx context.Context, dek []byte) ([]byte, string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString(dek),
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: vault-transit marshal request: %v", fgerr.ErrIntegrity, err)
	}

	respBody, err := p.doRequest(ctx, fmt.Sprintf("%s/v1/%s/encrypt/%s", p.addr, p.mountPath, p.keyName), reqBody)
	if err != nil {
		return nil, "", err
	}

	var parsed struct {
		Data struct {
			Ciphertext string `json:"ciphertext"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: vault-transit decode response: %v", fgerr.ErrIntegrity, err)
	}
	return []byte(parsed.Data.Ciphertext), p.keyName, nil
}

func (p *vaultMasterKeyProvider) UnwrapDEK(ctx context.Context, wrapped []byte, _ string) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]string{"ciphertext": string(wrapped)})
	if err != nil {
		return nil, fmt.Errorf("%w: vault-transit marshal request: %v", fgerr.ErrIntegrity, err)
	}

	respBody, err := p.doRequest(ctx, fmt.Sprintf("%s/v1/%s/decrypt/%s", p.addr, p.mountPath, p.keyName), reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Plaintext string `json:"plaintext"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: vault-transit decode response: %v", fgerr.ErrIntegrity, err)
	}
	dek, err := base64.StdEncoding.DecodeString(parsed.Data.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: vault-transit decode plaintext: %v", fgerr.ErrIntegrity, err)
	}
	return dek, nil
}

func (p *vaultMasterKeyProvider) doRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: vault-transit request build: %v", fgerr.ErrStorageUnavailable, err)
	}
	req.Header.Set(vaultTokenHeader, p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: vault-transit request: %v", fgerr.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: vault-transit read response: %v", fgerr.ErrStorageUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: vault-transit returned status %d: %s", fgerr.ErrStorageUnavailable, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (p *vaultMasterKeyProvider) Name() string { return "vault-transit" }

func (p *vaultMasterKeyProvider) Close() error { return nil }
