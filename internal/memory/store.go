package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nidhogg/golem-vault/internal/golem"
	"github.com/nidhogg/golem-vault/internal/handles"
)

const (
	// maxContentBytes caps the content field of a stored record. Larger
	// content is truncated with a visible marker instead of failing;
	// callers needing full fidelity must pre-check size.
	maxContentBytes = 10 * 1024
	// maxPayloadBytes is the raw transaction ceiling for a serialized
	// record.
	maxPayloadBytes = 200 * 1024

	truncationMarker = "...[content truncated]"

	// statsSampleSize bounds how many entities a stats call inspects.
	statsSampleSize = 50
)

// Ledger is the remote entity store the adapter writes to. Implemented
// by *golem.Client; faked in tests.
type Ledger interface {
	CreateEntity(ctx context.Context, data []byte, ttl uint64, annotations []golem.Annotation, onTxHash func(string)) (string, error)
	UpdateEntity(ctx context.Context, entityKey string, data []byte, ttl uint64, annotations []golem.Annotation, onTxHash func(string)) (string, error)
	DeleteEntity(ctx context.Context, entityKey string) error
	GetStorageValue(ctx context.Context, entityKey string) ([]byte, error)
	GetEntitiesOfOwner(ctx context.Context, owner string) ([]string, error)
	PendingNonce(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (string, error)
}

// Store persists memory records as ledger entities. Writes for the
// owning account are strictly serialized through a single-writer
// semaphore so nonces never collide.
type Store struct {
	ledger    Ledger
	owner     string
	handles   *handles.Cache
	writeSlot *semaphore.Weighted
	ttl       uint64
	logger    *zap.Logger
}

// NewStore creates a ledger storage adapter. The handle cache may be
// nil, in which case every lookup goes through the owner listing.
func NewStore(ledger Ledger, owner string, ttl uint64, cache *handles.Cache, logger *zap.Logger) *Store {
	return &Store{
		ledger:    ledger,
		owner:     owner,
		handles:   cache,
		writeSlot: semaphore.NewWeighted(1),
		ttl:       ttl,
		logger:    logger,
	}
}

// UploadResult reports a completed write. An empty TxHash with a
// present EntityKey is a partial success: the entity was written but
// the node did not report a transaction hash in time.
type UploadResult struct {
	EntityKey string
	TxHash    string
	ByteSize  int
	Timestamp time.Time
}

// UploadMemory serializes and writes a record as a new entity.
func (s *Store) UploadMemory(ctx context.Context, rec *Record) (*UploadResult, error) {
	return s.write(ctx, rec, "")
}

// UpdateMemory writes an updated record. The ledger has no in-place
// mutation, so this produces a new entity generation and returns its
// key; the old entity is not deleted here.
func (s *Store) UpdateMemory(ctx context.Context, oldKey string, rec *Record) (*UploadResult, error) {
	return s.write(ctx, rec, oldKey)
}

func (s *Store) write(ctx context.Context, rec *Record, oldKey string) (*UploadResult, error) {
	data, truncated := s.serialize(rec)

	// Single in-flight write per account. Released on every exit path
	// so a failed write can never wedge the lock.
	if err := s.writeSlot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: acquire write lock: %v", ErrStorageFailure, err)
	}
	defer s.writeSlot.Release(1)

	if err := s.testConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: connectivity: %v", ErrStorageFailure, err)
	}

	nonce, err := s.ledger.PendingNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrStorageFailure, err)
	}

	var txHash string
	onTxHash := func(h string) { txHash = h }
	annotations := s.annotations(rec)

	var entityKey string
	if oldKey == "" {
		entityKey, err = s.ledger.CreateEntity(ctx, data, s.ttl, annotations, onTxHash)
	} else {
		entityKey, err = s.ledger.UpdateEntity(ctx, oldKey, data, s.ttl, annotations, onTxHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %v", ErrStorageFailure, err)
	}

	if s.handles != nil {
		if oldKey != "" && oldKey != entityKey {
			if err := s.handles.Remove(ctx, oldKey); err != nil {
				s.logger.Warn("drop old handle", zap.Error(err))
			}
		}
		if err := s.handles.Put(ctx, rec.ID, entityKey); err != nil {
			s.logger.Warn("track handle", zap.Error(err))
		}
	}

	s.logger.Info("memory written",
		zap.String("record_id", rec.ID),
		zap.String("entity_key", entityKey),
		zap.Uint64("nonce", nonce),
		zap.Int("bytes", len(data)),
		zap.Bool("truncated", truncated),
		zap.Bool("tx_hash_captured", txHash != ""))

	return &UploadResult{
		EntityKey: entityKey,
		TxHash:    txHash,
		ByteSize:  len(data),
		Timestamp: time.Now(),
	}, nil
}

// serialize marshals a record for storage, excluding the handle and
// enforcing the payload ceilings. Returns the bytes and whether the
// content was truncated.
func (s *Store) serialize(rec *Record) ([]byte, bool) {
	truncated := false
	if len(rec.Content) > maxContentBytes {
		rec.Content = rec.Content[:maxContentBytes-len(truncationMarker)] + truncationMarker
		rec.Metadata.Size = len(rec.Content)
		truncated = true
	}

	stored := rec.Clone()
	stored.StorageHandle = ""
	data, err := json.Marshal(stored)
	if err != nil {
		// Record fields are all marshalable types; unreachable in practice.
		s.logger.Error("marshal record", zap.Error(err))
		return nil, truncated
	}
	if len(data) > maxPayloadBytes {
		overshoot := len(data) - maxPayloadBytes
		cut := len(rec.Content) - overshoot - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		rec.Content = rec.Content[:cut] + truncationMarker
		rec.Metadata.Size = len(rec.Content)
		truncated = true
		stored = rec.Clone()
		stored.StorageHandle = ""
		data, _ = json.Marshal(stored)
	}
	return data, truncated
}

func (s *Store) annotations(rec *Record) []golem.Annotation {
	return []golem.Annotation{
		{Key: "type", Value: "memory"},
		{Key: "id", Value: rec.ID},
		{Key: "memoryType", Value: string(rec.Type)},
		{Key: "category", Value: rec.Category},
		{Key: "owner", Value: s.owner},
		{Key: "version", Value: strconv.Itoa(rec.Metadata.Version)},
	}
}

// testConnectivity probes the node, retrying once with a doubled delay.
func (s *Store) testConnectivity(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0

	return backoff.Retry(func() error {
		_, err := s.ledger.ChainID(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx))
}

// RetrieveMemory fetches and parses a record by entity key. Empty
// entities and entities holding unrelated data both come back as
// (nil, nil): the ledger may hold anything, and foreign data is simply
// not a memory record.
func (s *Store) RetrieveMemory(ctx context.Context, entityKey string) (*Record, error) {
	data, err := s.ledger.GetStorageValue(ctx, entityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve %s: %v", ErrStorageFailure, entityKey, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Debug("entity is not a memory record",
			zap.String("entity_key", entityKey), zap.Error(err))
		return nil, nil
	}
	if rec.ID == "" || rec.Type == "" {
		return nil, nil
	}
	rec.StorageHandle = entityKey
	return &rec, nil
}

// DeleteMemory removes an entity, best effort. The handle is untracked
// locally regardless of the remote outcome.
func (s *Store) DeleteMemory(ctx context.Context, entityKey string) (bool, error) {
	if s.handles != nil {
		if err := s.handles.Remove(ctx, entityKey); err != nil {
			s.logger.Warn("untrack handle", zap.Error(err))
		}
	}
	if err := s.ledger.DeleteEntity(ctx, entityKey); err != nil {
		s.logger.Warn("delete entity failed",
			zap.String("entity_key", entityKey), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// FindByID locates a record among owned entities. The handle cache is
// tried first; the authoritative owner listing is the fallback.
func (s *Store) FindByID(ctx context.Context, id string) (*Record, error) {
	if s.handles != nil {
		if key, ok, err := s.handles.Lookup(ctx, id); err == nil && ok {
			rec, err := s.RetrieveMemory(ctx, key)
			if err == nil && rec != nil && rec.ID == id {
				return rec, nil
			}
		}
	}

	keys, err := s.ledger.GetEntitiesOfOwner(ctx, s.owner)
	if err != nil {
		return nil, fmt.Errorf("%w: list owned entities: %v", ErrStorageFailure, err)
	}
	for _, key := range keys {
		rec, err := s.RetrieveMemory(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.ID == id {
			if s.handles != nil {
				if err := s.handles.Put(ctx, id, key); err != nil {
					s.logger.Warn("track handle", zap.Error(err))
				}
			}
			return rec, nil
		}
	}
	return nil, nil
}

// SearchOwned enumerates owned entities and filters them by substring
// match against content, tags and category. Encrypted records always
// pass the text filter here; the service re-checks them after
// decryption. Cost is O(owned entities), never a full ledger scan.
func (s *Store) SearchOwned(ctx context.Context, text string, limit int) ([]*Record, error) {
	keys, err := s.ledger.GetEntitiesOfOwner(ctx, s.owner)
	if err != nil {
		return nil, fmt.Errorf("%w: list owned entities: %v", ErrStorageFailure, err)
	}

	needle := strings.ToLower(text)
	var out []*Record
	for _, key := range keys {
		rec, err := s.RetrieveMemory(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if needle != "" && !rec.Encrypted && !matchesText(rec, needle) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesText(rec *Record, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Content), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.Category), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Stats samples up to statsSampleSize owned entities and extrapolates
// totals from the sample ratio. An approximation by design: reading
// every entity on every stats call is prohibitively expensive.
func (s *Store) Stats(ctx context.Context) (*StorageStats, error) {
	keys, err := s.ledger.GetEntitiesOfOwner(ctx, s.owner)
	if err != nil {
		return nil, fmt.Errorf("%w: list owned entities: %v", ErrStorageFailure, err)
	}

	stats := &StorageStats{}
	if s.handles != nil {
		if n, err := s.handles.Count(ctx); err == nil {
			stats.PinnedMemories = n
		}
	}
	if len(keys) == 0 {
		return stats, nil
	}

	sample := keys
	if len(sample) > statsSampleSize {
		sample = sample[:statsSampleSize]
	}
	var sampledMemories int
	var sampledBytes int64
	for _, key := range sample {
		data, err := s.ledger.GetStorageValue(ctx, key)
		if err != nil {
			continue
		}
		var rec Record
		if json.Unmarshal(data, &rec) != nil || rec.ID == "" {
			continue
		}
		sampledMemories++
		sampledBytes += int64(len(data))
	}
	if sampledMemories == 0 {
		return stats, nil
	}

	ratio := float64(len(keys)) / float64(len(sample))
	stats.TotalMemories = int(float64(sampledMemories)*ratio + 0.5)
	avg := sampledBytes / int64(sampledMemories)
	stats.TotalSize = avg * int64(stats.TotalMemories)
	return stats, nil
}
