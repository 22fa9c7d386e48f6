package km

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// azkeysClient abstracts the Azure Key Vault key operations the master key
// provider needs.
type azkeysClient interface {
	WrapKey(ctx context.Context, keyName, keyVersion string, parameters azkeys.KeyOperationParameters, options *azkeys.WrapKeyOptions) (azkeys.WrapKeyResponse, error)
	UnwrapKey(ctx context.Context, keyName, keyVersion string, parameters azkeys.KeyOperationParameters, options *azkeys.UnwrapKeyOptions) (azkeys.UnwrapKeyResponse, error)
}

const azureWrapAlgorithm = azkeys.EncryptionAlgorithmRSAOAEP256

type azureMasterKeyProvider struct {
	client   azkeysClient
	keyName  string
	vaultURL string
}

func newAzureMasterKeyProvider(cfg MasterKeyConfig) (*azureMasterKeyProvider, error) {
	if cfg.KeyRef == "" {
		return nil, fmt.Errorf("%w: azure-keyvault key name is required", fgerr.ErrInvalidInput)
	}
	vaultURL := cfg.Credentials["vault-url"]
	if vaultURL == "" {
		return nil, fmt.Errorf("%w: azure-keyvault vault URL is required", fgerr.ErrInvalidInput)
	}

	cred, err := azureCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: azure-keyvault credential: %v", fgerr.ErrStorageUnavailable, err)
	}

	client, err := azkeys.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: azure-keyvault client: %v", fgerr.ErrStorageUnavailable, err)
	}

	return &azureMasterKeyProvider{client: client, keyName: cfg.KeyRef, vaultURL: vaultURL}, nil
}

func azureCredential(cfg MasterKeyConfig) (azcore.TokenCredential, error) {
	tenantID := cfg.Credentials["tenant-id"]
	clientID := cfg.Credentials["client-id"]
	clientSecret := cfg.Credentials["client-secret"]
	if tenantID != "" && clientID != "" && clientSecret != "" {
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func (p *azureMasterKeyProvider) WrapDEK(ctx context.Context, dek []byte) ([]byte, string, error) {
	resp, err := p.client.WrapKey(ctx, p.keyName, "", azkeys.KeyOperationParameters{
		Algorithm: to(azureWrapAlgorithm),
		Value:     dek,
	}, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: azure-keyvault WrapKey: %v", fgerr.ErrIntegrity, err)
	}
	return resp.Result, p.keyName, nil
}

func (p *azureMasterKeyProvider) UnwrapDEK(ctx context.Context, wrapped []byte, _ string) ([]byte, error) {
	resp, err := p.client.UnwrapKey(ctx, p.keyName, "", azkeys.KeyOperationParameters{
		Algorithm: to(azureWrapAlgorithm),
		Value:     wrapped,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: azure-keyvault UnwrapKey: %v", fgerr.ErrIntegrity, err)
	}
	return resp.Result, nil
}

func (p *azureMasterKeyProvider) Name() string { return "azure-keyvault" }

func (p *azureMasterKeyProvider) Close() error { return nil }

func to[T any](v T) *T { return &v }
