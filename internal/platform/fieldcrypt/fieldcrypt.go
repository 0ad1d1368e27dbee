// Package fieldcrypt encrypts individual column values before they reach the
// database.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Encryptor encrypts and decrypts single string values.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESGCM is an AES-256-GCM Encryptor. Ciphertexts are base64 with the nonce
// prepended.
type AESGCM struct {
	aead cipher.AEAD
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fieldcrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create GCM: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

func (e *AESGCM) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESGCM) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: base64 decode: %w", err)
	}
	n := e.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("fieldcrypt: ciphertext too short")
	}
	plain, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decrypt: %w", err)
	}
	return string(plain), nil
}

// FromHexKey builds an Encryptor from a 64-character hex key. An empty key
// returns nil, which callers treat as "store in clear".
func FromHexKey(key string, logger zerolog.Logger) (Encryptor, error) {
	if key == "" {
		logger.Warn().Msg("field encryption disabled: PATIENT_ENCRYPTION_KEY is not set")
		return nil, nil
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("PATIENT_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	enc, err := NewAESGCM(raw)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("field encryption enabled")
	return enc, nil
}

// EncryptPtr encrypts *p in place. Nil pointers, empty values and a nil
// Encryptor are left alone.
func EncryptPtr(enc Encryptor, p *string) error {
	if enc == nil || p == nil || *p == "" {
		return nil
	}
	v, err := enc.Encrypt(*p)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// DecryptPtr is the inverse of EncryptPtr.
func DecryptPtr(enc Encryptor, p *string) error {
	if enc == nil || p == nil || *p == "" {
		return nil
	}
	v, err := enc.Decrypt(*p)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
