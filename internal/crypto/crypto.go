// Package crypto implements authenticated encryption of memory content
// with AES-256-GCM. Keys are borrowed from the key manager for single
// operations and never retained.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/nidhogg/golem-vault/internal/keys"
	"go.uber.org/zap"
)

const gcmTagSize = 16

var (
	// ErrKeyNotFound is returned when the referenced key ID is not in
	// the session cache.
	ErrKeyNotFound = errors.New("encryption key not found")
	// ErrDecryptionFailed wraps any authentication or format failure
	// during decryption.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeySource resolves key IDs to session key material.
type KeySource interface {
	GetKey(keyID string) (*keys.MemoryKey, bool)
}

// Service performs envelope encryption and decryption.
type Service struct {
	logger *zap.Logger
}

// NewService creates an encryption service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Encrypt seals plaintext under the key identified by keyID and returns
// a self-describing envelope.
func (s *Service) Encrypt(plaintext, keyID string, ks KeySource) (*Envelope, error) {
	key, ok := ks.GetKey(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return s.EncryptWithKey(plaintext, key)
}

// EncryptWithKey seals plaintext under an explicit key.
func (s *Service) EncryptWithKey(plaintext string, key *keys.MemoryKey) (*Envelope, error) {
	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	enc := base64.StdEncoding
	return &Envelope{
		EncryptedContent: enc.EncodeToString(ct),
		IV:               enc.EncodeToString(iv),
		Salt:             enc.EncodeToString(key.Salt),
		Tag:              enc.EncodeToString(tag),
		Algorithm:        key.Algorithm,
		KeyDerivation:    keys.KeyDerivation,
		Iterations:       keys.Iterations,
	}, nil
}

// Decrypt opens an envelope with the key identified by keyID.
func (s *Service) Decrypt(env *Envelope, keyID string, ks KeySource) (string, error) {
	key, ok := ks.GetKey(keyID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return s.DecryptWithKey(env, key)
}

// DecryptWithKey opens an envelope with an explicit key. Any failure,
// whether a wrong key, a failed tag check, or a malformed envelope,
// is reported as ErrDecryptionFailed.
func (s *Service) DecryptWithKey(env *Envelope, key *keys.MemoryKey) (string, error) {
	enc := base64.StdEncoding
	ct, err := enc.DecodeString(env.EncryptedContent)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecryptionFailed, err)
	}
	iv, err := enc.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("%w: decode iv: %v", ErrDecryptionFailed, err)
	}
	tag, err := enc.DecodeString(env.Tag)
	if err != nil {
		return "", fmt.Errorf("%w: decode tag: %v", ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(key.Key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad iv length %d", ErrDecryptionFailed, len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
