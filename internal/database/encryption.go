package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"socialqueue/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionOptions controls at-rest encryption of stored credentials.
type EncryptionOptions struct {
	Enabled bool
	Secret  string
}

// EncryptionOptionsFromEnv reads SOCIALQUEUE_ENABLE_ENCRYPTION and
// SOCIALQUEUE_ENCRYPTION_SECRET.
func EncryptionOptionsFromEnv() EncryptionOptions {
	return EncryptionOptions{
		Enabled: os.Getenv(constants.EnvEnableEncryption) == "true",
		Secret:  os.Getenv(constants.EnvEncryptionSecret),
	}
}

// encryptor seals values with AES-256-GCM. A nil gcm passes values through.
type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor(opts EncryptionOptions) (*encryptor, error) {
	if !opts.Enabled {
		return &encryptor{}, nil
	}

	key, err := deriveKey(opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.EncryptionNonceBytes {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.EncryptionNonceBytes], data[constants.EncryptionNonceBytes:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s is required when encryption is enabled", constants.EnvEncryptionSecret)
	}
	if len(secret) < constants.MinEncryptionSecretChars {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretChars)
	}
	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionKDFIterations, constants.EncryptionKeyBytes, sha256.New), nil
}
