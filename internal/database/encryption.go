package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionEnabledEnv = "TELERELAY_ENABLE_ENCRYPTION"
	encryptionSecretEnv  = "TELERELAY_ENCRYPTION_SECRET"

	keySize           = 32
	nonceSize         = 12
	pbkdf2Iterations  = 100000
	minSecretLength   = 16
	encryptionVersion = "v1:"
)

// keyDerivationSalt is fixed so the same secret always derives the same key.
// The secret itself must come from the environment.
var keyDerivationSalt = []byte("telerelay-message-store")

// encryptor provides optional at-rest encryption of stored message text.
// With encryption disabled every method is a pass-through.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
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

func isEncryptionEnabled() bool {
	return os.Getenv(encryptionEnabledEnv) == "true"
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(encryptionSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s is required when encryption is enabled", encryptionSecretEnv)
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%s must be at least %d characters", encryptionSecretEnv, minSecretLength)
	}
	return pbkdf2.Key([]byte(secret), keyDerivationSalt, pbkdf2Iterations, keySize, sha256.New), nil
}

// EncryptIfEnabled encrypts plaintext when encryption is configured, and
// returns it unchanged otherwise. Ciphertext carries a version prefix so
// mixed-mode databases stay readable.
func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return encryptionVersion + base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptIfEnabled reverses EncryptIfEnabled. Unprefixed values are assumed
// to predate encryption and pass through untouched.
func (e *encryptor) DecryptIfEnabled(stored string) (string, error) {
	if stored == "" || e.gcm == nil {
		return stored, nil
	}
	if len(stored) < len(encryptionVersion) || stored[:len(encryptionVersion)] != encryptionVersion {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(stored[len(encryptionVersion):])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt message text: %w", err)
	}
	return string(plaintext), nil
}
