package encryption_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/encryption"
	"passwordless-auth/internal/util"
)

type fakeKMS struct {
	calls int
	input *kms.DecryptInput
	out   []byte
	err   error
}

func (f *fakeKMS) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: f.out}, nil
}

func init() {
	util.Replace(zap.NewNop())
}

func TestPepperFromPlainSetting(t *testing.T) {
	cfg := &config.Config{Hashing: config.HashingConfig{Pepper: "plain"}}
	m := encryption.NewPepperManager(cfg, nil)

	pepper, err := m.Pepper(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), pepper)
}

func TestPepperFromKMS(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Pepper:           "ignored",
			PepperCiphertext: base64.StdEncoding.EncodeToString([]byte("ciphertext")),
		},
		KMS: config.KMSConfig{Enabled: true, KeyID: "alias/pepper"},
	}
	fake := &fakeKMS{out: []byte("from-kms")}
	m := encryption.NewPepperManager(cfg, fake)

	for i := 0; i < 2; i++ {
		pepper, err := m.Pepper(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte("from-kms"), pepper)
	}
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, []byte("ciphertext"), fake.input.CiphertextBlob)
	assert.Equal(t, "alias/pepper", aws.ToString(fake.input.KeyId))
}

func TestPepperErrors(t *testing.T) {
	cipher := base64.StdEncoding.EncodeToString([]byte("ciphertext"))

	tests := []struct {
		name   string
		cfg    *config.Config
		kms    encryption.Decrypter
		target error
	}{
		{
			name:   "ciphertext without kms",
			cfg:    &config.Config{Hashing: config.HashingConfig{PepperCiphertext: cipher}},
			target: encryption.ErrKMSDisabled,
		},
		{
			name: "bad base64",
			cfg: &config.Config{
				Hashing: config.HashingConfig{PepperCiphertext: "%%%"},
				KMS:     config.KMSConfig{Enabled: true, KeyID: "k"},
			},
			kms:    &fakeKMS{},
			target: encryption.ErrDecryptionFailed,
		},
		{
			name: "kms failure",
			cfg: &config.Config{
				Hashing: config.HashingConfig{PepperCiphertext: cipher},
				KMS:     config.KMSConfig{Enabled: true, KeyID: "k"},
			},
			kms:    &fakeKMS{err: errors.New("access denied")},
			target: encryption.ErrDecryptionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encryption.NewPepperManager(tt.cfg, tt.kms).Pepper(context.Background())
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
