package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/golem-vault/internal/anchor"
	"github.com/nidhogg/golem-vault/internal/checksum"
	"github.com/nidhogg/golem-vault/internal/crypto"
	"github.com/nidhogg/golem-vault/internal/keys"
	"github.com/nidhogg/golem-vault/internal/throttle"
)

// maxFallbackKeys bounds the session-key iteration of the decryption
// recovery path. Unbounded iteration over a growing key cache is a
// latent performance cliff.
const maxFallbackKeys = 25

// Service is the public entry point for memory operations. It composes
// key management, encryption, the ledger storage adapter, request
// throttling and optional NEAR anchoring.
type Service struct {
	store   *Store
	keys    *keys.Manager
	crypto  *crypto.Service
	anchors *anchor.Client
	queue   *throttle.Queue
	cache   *ristretto.Cache
	logger  *zap.Logger
}

// NewService creates the orchestrator. anchors may be nil to disable
// integrity anchoring.
func NewService(store *Store, km *keys.Manager, cs *crypto.Service, anchors *anchor.Client, queue *throttle.Queue, logger *zap.Logger) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     4096,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &Service{
		store:   store,
		keys:    km,
		crypto:  cs,
		anchors: anchors,
		queue:   queue,
		cache:   cache,
		logger:  logger,
	}, nil
}

// Unlock sets the session master password for key derivation.
func (s *Service) Unlock(password string) error {
	if err := s.keys.InitializeWithPassword(password); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Lock wipes the key session and the decrypted-record cache.
func (s *Service) Lock() {
	s.keys.ClearSession()
	s.cache.Clear()
}

// CreateMemory encrypts (unless disabled), persists and returns a new
// record. On storage failure nothing is persisted and the record does
// not exist from the caller's perspective.
func (s *Service) CreateMemory(ctx context.Context, content string, typ Type, category string, tags []string, policy *AccessPolicy, encrypted bool) (*Record, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrValidation)
	}
	if !ValidType(typ) {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrValidation, typ)
	}

	now := time.Now()
	rec := &Record{
		ID:        uuid.New().String(),
		Content:   content,
		Type:      typ,
		Category:  category,
		Tags:      append([]string(nil), tags...),
		CreatedAt: now,
		UpdatedAt: now,
		Encrypted: encrypted,
		Metadata: Metadata{
			MimeType: "text/plain",
			Encoding: "utf-8",
			Version:  1,
		},
	}
	if policy != nil {
		rec.AccessPolicy = *policy
	}
	if rec.AccessPolicy.Owner == "" {
		rec.AccessPolicy.Owner = s.store.owner
	}

	plaintext := content
	if encrypted {
		if !s.keys.IsInitialized() {
			return nil, ErrEncryptionUnavailable
		}
		key, err := s.keys.GenerateMemoryKey(rec.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
		env, err := s.crypto.EncryptWithKey(content, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
		serialized, err := env.Marshal()
		if err != nil {
			return nil, err
		}
		rec.Content = serialized
		rec.Metadata.EncryptionKeyID = key.KeyID
		rec.Metadata.EncryptionSalt = base64.StdEncoding.EncodeToString(key.Salt)
	}
	rec.Metadata.Size = len(rec.Content)
	rec.Metadata.Checksum = checksum.Fingerprint(rec.Content)

	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	res, err := s.store.UploadMemory(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	rec.StorageHandle = res.EntityKey
	rec.TxHash = res.TxHash

	s.anchorChecksum(ctx, rec)

	view := rec.Clone()
	if encrypted {
		view.Content = plaintext
	}
	s.cache.Set(rec.ID, view.Clone(), 1)
	return view, nil
}

// GetMemory returns the record with the given ID, decrypted when
// possible, or nil when no such record exists. Decryption failure
// degrades to returning the raw envelope, never to an error.
func (s *Service) GetMemory(ctx context.Context, id string) (*Record, error) {
	if cached, ok := s.cache.Get(id); ok {
		if rec, ok := cached.(*Record); ok {
			return rec.Clone(), nil
		}
	}

	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if !rec.Encrypted {
		s.cache.Set(id, rec.Clone(), 1)
		return rec, nil
	}

	plaintext, ok := s.decryptContent(rec)
	view := rec.Clone()
	view.Content = plaintext
	if ok {
		s.cache.Set(id, view.Clone(), 1)
	}
	return view, nil
}

// decryptContent runs the recovery chain for an encrypted record:
// cached key, salt-based re-derivation, then a bounded sweep of the
// session keys. Returns the envelope content unchanged when every
// strategy fails.
func (s *Service) decryptContent(rec *Record) (string, bool) {
	env, err := crypto.ParseEnvelope(rec.Content)
	if err != nil {
		s.logger.Warn("encrypted record holds no parseable envelope",
			zap.String("record_id", rec.ID), zap.Error(err))
		return rec.Content, false
	}

	if keyID := rec.Metadata.EncryptionKeyID; keyID != "" {
		if _, ok := s.keys.GetKey(keyID); ok {
			if plaintext, err := s.crypto.Decrypt(env, keyID, s.keys); err == nil {
				return plaintext, true
			}
			s.logger.Debug("cached key failed, trying re-derivation",
				zap.String("record_id", rec.ID))
		}
	}

	saltB64 := rec.Metadata.EncryptionSalt
	if saltB64 == "" {
		saltB64 = env.Salt
	}
	if saltB64 != "" && s.keys.IsInitialized() {
		if salt, err := base64.StdEncoding.DecodeString(saltB64); err == nil {
			if key, err := s.keys.GenerateMemoryKey(rec.ID, salt); err == nil {
				if plaintext, err := s.crypto.DecryptWithKey(env, key); err == nil {
					return plaintext, true
				}
			}
		}
	}

	// Last resort for records written before per-record key tracking:
	// sweep the session keys, oldest first, capped.
	tried := 0
	for _, key := range s.keys.SessionKeys() {
		if tried >= maxFallbackKeys {
			break
		}
		tried++
		if plaintext, err := s.crypto.DecryptWithKey(env, key); err == nil {
			s.logger.Warn("record decrypted via session key sweep",
				zap.String("record_id", rec.ID),
				zap.String("key_id", key.KeyID),
				zap.Int("keys_tried", tried))
			return plaintext, true
		}
	}

	s.logger.Warn("all decryption strategies failed, returning ciphertext",
		zap.String("record_id", rec.ID), zap.Int("keys_tried", tried))
	return rec.Content, false
}

// UpdateMemory applies field-level updates, bumps the version and
// writes a new entity generation. Returns nil when the record does not
// exist. A failed write leaves the stored record untouched.
func (s *Service) UpdateMemory(ctx context.Context, id string, updates UpdateInput) (*Record, error) {
	if updates.Type != nil && !ValidType(*updates.Type) {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrValidation, *updates.Type)
	}

	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if err := s.authorize(rec, updates.Actor, ActionWrite); err != nil {
		return nil, err
	}

	if updates.Type != nil {
		rec.Type = *updates.Type
	}
	if updates.Category != nil {
		rec.Category = *updates.Category
	}
	if updates.Tags != nil {
		rec.Tags = append([]string(nil), updates.Tags...)
	}

	plaintext := ""
	havePlaintext := false
	if updates.Content != nil {
		plaintext = *updates.Content
		havePlaintext = true
		if rec.Encrypted {
			env, err := s.reencrypt(rec, plaintext)
			if err != nil {
				return nil, err
			}
			rec.Content = env
		} else {
			rec.Content = plaintext
		}
		rec.Metadata.Size = len(rec.Content)
		rec.Metadata.Checksum = checksum.Fingerprint(rec.Content)
	}

	rec.Metadata.Version++
	rec.UpdatedAt = time.Now()

	oldHandle := rec.StorageHandle
	res, err := s.store.UpdateMemory(ctx, oldHandle, rec)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	rec.StorageHandle = res.EntityKey
	rec.TxHash = res.TxHash

	s.cache.Del(id)
	if updates.Content != nil {
		s.anchorChecksum(ctx, rec)
	}

	view := rec.Clone()
	if rec.Encrypted {
		if !havePlaintext {
			plaintext, _ = s.decryptContent(rec)
		}
		view.Content = plaintext
	}
	s.cache.Set(id, view.Clone(), 1)
	return view, nil
}

// reencrypt seals new content under the record's existing key,
// regenerating it from the persisted salt when it is not cached.
func (s *Service) reencrypt(rec *Record, plaintext string) (string, error) {
	keyID := rec.Metadata.EncryptionKeyID
	key, ok := s.keys.GetKey(keyID)
	if !ok {
		if !s.keys.IsInitialized() {
			return "", ErrEncryptionUnavailable
		}
		salt, err := base64.StdEncoding.DecodeString(rec.Metadata.EncryptionSalt)
		if err != nil {
			return "", fmt.Errorf("%w: bad stored salt", ErrValidation)
		}
		key, err = s.keys.GenerateMemoryKey(rec.ID, salt)
		if err != nil {
			return "", fmt.Errorf("derive key: %w", err)
		}
	}
	env, err := s.crypto.EncryptWithKey(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("encrypt content: %w", err)
	}
	return env.Marshal()
}

// DeleteMemory removes the record with the given ID. Returns false,
// not an error, when the record does not exist.
func (s *Service) DeleteMemory(ctx context.Context, id string) (bool, error) {
	return s.DeleteMemoryAs(ctx, id, "")
}

// DeleteMemoryAs is DeleteMemory on behalf of an agent, checked against
// the record's access policy.
func (s *Service) DeleteMemoryAs(ctx context.Context, id, agentID string) (bool, error) {
	if err := s.queue.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if err := s.authorize(rec, agentID, ActionDelete); err != nil {
		return false, err
	}

	ok, err := s.store.DeleteMemory(ctx, rec.StorageHandle)
	if err != nil {
		return false, err
	}
	// Drain the cache buffer so a read issued right after the delete
	// cannot serve the removed record.
	s.cache.Del(id)
	s.cache.Wait()
	return ok, nil
}

// GetStorageStats returns a sampled approximation of ledger usage.
func (s *Service) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	return s.store.Stats(ctx)
}

// anchorChecksum posts the record's content digest to NEAR, best
// effort. Anchoring never affects the write outcome.
func (s *Service) anchorChecksum(ctx context.Context, rec *Record) {
	if s.anchors == nil {
		return
	}
	digest := checksum.Digest([]byte(rec.Content))
	if err := s.anchors.AnchorChecksum(ctx, rec.ID, digest, rec.TxHash); err != nil {
		s.logger.Warn("integrity anchor failed",
			zap.String("record_id", rec.ID), zap.Error(err))
	}
}
