// Package keys derives and caches per-record symmetric keys from a
// session master secret. Key material never leaves the process; only
// the per-record salt is safe to persist alongside a record.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm is the cipher the derived keys are intended for.
	Algorithm = "AES-256-GCM"
	// KeyDerivation names the KDF recorded in encrypted envelopes.
	KeyDerivation = "PBKDF2-SHA256"
	// Iterations is the PBKDF2 iteration count.
	Iterations = 100000

	keySize  = 32
	saltSize = 16

	keyIDPrefix = "memory_"
)

// ErrNotInitialized is returned when key derivation is attempted before
// a master secret has been set.
var ErrNotInitialized = errors.New("key manager not initialized")

// MemoryKey is a derived per-record key, cached for the session.
type MemoryKey struct {
	KeyID     string
	Algorithm string
	Key       []byte
	Salt      []byte
	CreatedAt time.Time
}

// Manager holds the session master secret and the derived-key cache.
type Manager struct {
	mu     sync.RWMutex
	master string
	cache  map[string]*MemoryKey
	order  []string // key IDs in insertion order, oldest first
	logger *zap.Logger
}

// NewManager creates an uninitialized key manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		cache:  make(map[string]*MemoryKey),
		logger: logger,
	}
}

// InitializeWithPassword sets the session master secret. Must be called
// before any derivation.
func (m *Manager) InitializeWithPassword(password string) error {
	if password == "" {
		return fmt.Errorf("empty master password")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master = password
	m.logger.Info("key manager initialized")
	return nil
}

// IsInitialized reports whether a master secret is currently set.
func (m *Manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.master != ""
}

// GenerateMemoryKey derives the key for a memory record. A nil salt
// requests a fresh random salt; passing the salt persisted with a
// record regenerates the exact same key. The result is cached under
// its key ID.
func (m *Manager) GenerateMemoryKey(memoryID string, salt []byte) (*MemoryKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.master == "" {
		return nil, ErrNotInitialized
	}
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}

	derived := pbkdf2.Key([]byte(m.master+memoryID), salt, Iterations, keySize, sha256.New)
	key := &MemoryKey{
		KeyID:     keyIDPrefix + memoryID,
		Algorithm: Algorithm,
		Key:       derived,
		Salt:      salt,
		CreatedAt: time.Now(),
	}
	if _, exists := m.cache[key.KeyID]; !exists {
		m.order = append(m.order, key.KeyID)
	}
	m.cache[key.KeyID] = key
	return key, nil
}

// GetKey returns the cached key for an ID. Pure lookup, never derives.
func (m *Manager) GetKey(keyID string) (*MemoryKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.cache[keyID]
	return k, ok
}

// SessionKeys returns all cached keys, oldest first. Used by the
// decryption recovery path for records written before per-record key
// tracking existed.
func (m *Manager) SessionKeys() []*MemoryKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MemoryKey, 0, len(m.order))
	for _, id := range m.order {
		if k, ok := m.cache[id]; ok {
			out = append(out, k)
		}
	}
	return out
}

// ClearSession wipes the master secret and every cached key.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.cache {
		for i := range k.Key {
			k.Key[i] = 0
		}
	}
	m.master = ""
	m.cache = make(map[string]*MemoryKey)
	m.order = nil
	m.logger.Info("key session cleared")
}
