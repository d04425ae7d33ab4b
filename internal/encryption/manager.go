package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/util"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKMSDisabled      = errors.New("pepper ciphertext configured but KMS is disabled")
)

// Decrypter is the subset of the KMS client used here.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// PepperManager resolves the secret-hash pepper once: from a KMS
// ciphertext when one is configured, otherwise from the plain setting.
type PepperManager struct {
	decrypter Decrypter
	config    *config.Config

	once   sync.Once
	pepper []byte
	err    error
}

func NewPepperManager(cfg *config.Config, decrypter Decrypter) *PepperManager {
	return &PepperManager{decrypter: decrypter, config: cfg}
}

func (m *PepperManager) Pepper(ctx context.Context) ([]byte, error) {
	m.once.Do(func() {
		m.pepper, m.err = m.resolve(ctx)
	})
	return m.pepper, m.err
}

func (m *PepperManager) resolve(ctx context.Context) ([]byte, error) {
	hashing := m.config.Hashing

	if hashing.PepperCiphertext == "" {
		if hashing.Pepper == "" {
			util.Warn("No hash pepper configured, secrets are hashed with salt only")
		}
		return []byte(hashing.Pepper), nil
	}

	if !m.config.KMS.Enabled || m.decrypter == nil {
		return nil, ErrKMSDisabled
	}

	blob, err := base64.StdEncoding.DecodeString(hashing.PepperCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pepper ciphertext", ErrDecryptionFailed)
	}

	result, err := m.decrypter.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(m.config.KMS.KeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(result.Plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty pepper", ErrDecryptionFailed)
	}

	util.Info("Hash pepper decrypted with KMS", zap.String("key_id", m.config.KMS.KeyID))
	return result.Plaintext, nil
}
