package km

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/altairalabs/finguard/internal/fgerr"
)

// kmsClient abstracts the AWS KMS operations the master key provider needs,
// so tests can substitute a fake without a live AWS account.
type kmsClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type awsMasterKeyProvider struct {
	client kmsClient
	keyID  string
}

func newAWSMasterKeyProvider(cfg MasterKeyConfig) (*awsMasterKeyProvider, error) {
	if cfg.KeyRef == "" {
		return nil, fmt.Errorf("%w: aws-kms master key ref (ARN) is required", fgerr.ErrInvalidInput)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: aws-kms region is required", fgerr.ErrInvalidInput)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if ak, sk := cfg.Credentials["access-key-id"], cfg.Credentials["secret-access-key"]; ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws-kms config load: %v", fgerr.ErrStorageUnavailable, err)
	}

	return &awsMasterKeyProvider{client: kms.NewFromConfig(awsCfg), keyID: cfg.KeyRef}, nil
}

func (p *awsMasterKeyProvider) WrapDEK(ctx context.Context, dek []byte) ([]byte, string, error) {
	out, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: dek,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: aws-kms Encrypt: %v", fgerr.ErrIntegrity, err)
	}
	return out.CiphertextBlob, aws.ToString(out.KeyId), nil
}

func (p *awsMasterKeyProvider) UnwrapDEK(ctx context.Context, wrapped []byte, _ string) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: aws-kms Decrypt: %v", fgerr.ErrIntegrity, err)
	}
	return out.Plaintext, nil
}

func (p *awsMasterKeyProvider) Name() string { return "aws-kms" }

func (p *awsMasterKeyProvider) Close() error { return nil }
