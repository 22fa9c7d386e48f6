package km

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/option"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// gcpKMSClient abstracts the GCP Cloud KMS operations the master key
// provider needs.
type gcpKMSClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error)
	Close() error
}

type gcpMasterKeyProvider struct {
	client gcpKMSClient
	keyID  string
}

func newGCPMasterKeyProvider(cfg MasterKeyConfig) (*gcpMasterKeyProvider, error) {
	if cfg.KeyRef == "" {
		return nil, fmt.Errorf("%w: gcp-kms master key resource name is required", fgerr.ErrInvalidInput)
	}

	var opts []option.ClientOption
	if creds := cfg.Credentials["credentials-json"]; creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	client, err := kms.NewKeyManagementClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gcp-kms client creation: %v", fgerr.ErrStorageUnavailable, err)
	}

	return &gcpMasterKeyProvider{client: client, keyID: cfg.KeyRef}, nil
}

func (p *gcpMasterKeyProvider) WrapDEK(ctx context.Context, dek []byte) ([]byte, string, error) {
	resp, err := p.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      p.keyID,
		Plaintext: dek,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: gcp-kms Encrypt: %v", fgerr.ErrIntegrity, err)
	}
	return resp.Ciphertext, resp.Name, nil
}

func (p *gcpMasterKeyProvider) UnwrapDEK(ctx context.Context, wrapped []byte, _ string) ([]byte, error) {
	resp, err := p.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       p.keyID,
		Ciphertext: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gcp-kms Decrypt: %v", fgerr.ErrIntegrity, err)
	}
	return resp.Plaintext, nil
}

func (p *gcpMasterKeyProvider) Name() string { return "gcp-kms" }

func (p *gcpMasterKeyProvider) Close() error { return p.client.Close() }
