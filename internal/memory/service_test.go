package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/golem-vault/internal/crypto"
	"github.com/nidhogg/golem-vault/internal/keys"
	"github.com/nidhogg/golem-vault/internal/throttle"
)

type testEnv struct {
	svc    *Service
	ledger *fakeLedger
	store  *Store
	keys   *keys.Manager
	crypto *crypto.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	f := newFakeLedger()
	st := newTestStore(f)
	km := keys.NewManager(zap.NewNop())
	cs := crypto.NewService(zap.NewNop())
	svc, err := NewService(st, km, cs, nil, throttle.NewQueue(0), zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{svc: svc, ledger: f, store: st, keys: km, crypto: cs}
}

func (e *testEnv) unlock(t *testing.T, password string) {
	t.Helper()
	if err := e.svc.Unlock(password); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestCreateAndGetEncrypted(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "hello world", TypeConversation, "test", nil, nil, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !rec.Encrypted {
		t.Error("record not flagged encrypted")
	}
	if rec.Metadata.EncryptionKeyID == "" || rec.Metadata.EncryptionSalt == "" {
		t.Error("encryption key metadata not recorded")
	}
	if rec.StorageHandle == "" {
		t.Error("storage handle not stamped")
	}
	if rec.Metadata.Version != 1 {
		t.Errorf("got version %d, want 1", rec.Metadata.Version)
	}

	got, err := e.svc.GetMemory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.Content != "hello world" {
		t.Errorf("got content %q, want hello world", got.Content)
	}
}

func TestCreateEncrypted_RequiresUnlock(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.CreateMemory(context.Background(), "x", TypeConversation, "", nil, nil, true)
	if !errors.Is(err, ErrEncryptionUnavailable) {
		t.Fatalf("got %v, want ErrEncryptionUnavailable", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.svc.CreateMemory(ctx, "", TypeConversation, "", nil, nil, false); !errors.Is(err, ErrValidation) {
		t.Errorf("empty content: got %v, want ErrValidation", err)
	}
	if _, err := e.svc.CreateMemory(ctx, "x", Type("bogus"), "", nil, nil, false); !errors.Is(err, ErrValidation) {
		t.Errorf("bad type: got %v, want ErrValidation", err)
	}
}

func TestCreate_StorageFailureLeavesNothing(t *testing.T) {
	e := newTestEnv(t)
	e.ledger.createErr = errors.New("node rejected")

	_, err := e.svc.CreateMemory(context.Background(), "x", TypeConversation, "", nil, nil, false)
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("got %v, want ErrStorageFailure", err)
	}
	if len(e.ledger.order) != 0 {
		t.Error("failed create left an entity behind")
	}
}

func TestGetMemory_NotFoundIsNil(t *testing.T) {
	e := newTestEnv(t)
	rec, err := e.svc.GetMemory(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("missing record must not error: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v, want nil", rec)
	}
}

func TestDeleteMemory_NotFoundIsFalse(t *testing.T) {
	e := newTestEnv(t)
	ok, err := e.svc.DeleteMemory(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("missing record must not error: %v", err)
	}
	if ok {
		t.Error("delete of missing record reported success")
	}
}

func TestDecryption_SaltRegeneration(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "remember me", TypeLearnedFact, "facts", nil, nil, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// New session, same master password: the cached key is gone and the
	// key must be regenerated from the persisted salt.
	e.svc.Lock()
	e.unlock(t, "pw")

	got, err := e.svc.GetMemory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "remember me" {
		t.Errorf("got %q, want decrypted content via salt regeneration", got.Content)
	}
}

func TestDecryption_SessionKeySweep(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	// A record written before per-record key tracking: encrypted under
	// a key the metadata does not reference.
	legacyKey, err := e.keys.GenerateMemoryKey("legacy-source", nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	env, err := e.crypto.EncryptWithKey("old secret", legacyKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	content, _ := env.Marshal()

	rec := testRecord("legacy-1")
	rec.Encrypted = true
	rec.Content = content
	if _, err := e.store.UploadMemory(ctx, rec); err != nil {
		t.Fatalf("upload: %v", err)
	}

	got, err := e.svc.GetMemory(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "old secret" {
		t.Errorf("got %q, want recovery via session key sweep", got.Content)
	}
}

func TestDecryption_FailureDegradesToCiphertext(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "top secret", TypeConversation, "", nil, nil, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Wrong master password: every strategy fails, the record comes
	// back with its envelope intact instead of an error.
	e.svc.Lock()
	e.unlock(t, "wrong password")

	got, err := e.svc.GetMemory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("degraded read must not error: %v", err)
	}
	if got == nil {
		t.Fatal("record lost")
	}
	if got.Content == "top secret" {
		t.Fatal("decryption succeeded with wrong password")
	}
	if _, err := crypto.ParseEnvelope(got.Content); err != nil {
		t.Errorf("degraded content is not the original envelope: %v", err)
	}
}

func TestUpdateMemory_VersionMonotonic(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "v1 content", TypeConversation, "", nil, nil, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newContent := "v2 content"
	updated, err := e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Content: &newContent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Metadata.Version != 2 {
		t.Errorf("got version %d, want 2", updated.Metadata.Version)
	}
	if updated.StorageHandle == rec.StorageHandle {
		t.Error("update did not produce a new storage handle")
	}

	category := "archive"
	updated, err = e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Category: &category})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if updated.Metadata.Version != 3 {
		t.Errorf("got version %d, want 3", updated.Metadata.Version)
	}

	// A failed write must leave the stored version unchanged.
	e.ledger.createErr = errors.New("node rejected")
	bad := "v4 content"
	if _, err := e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Content: &bad}); err == nil {
		t.Fatal("expected update failure")
	}
	e.ledger.createErr = nil

	got, err := e.svc.GetMemory(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("get after failed update: rec=%v err=%v", got, err)
	}
	if got.Metadata.Version != 3 {
		t.Errorf("failed update changed version to %d, want 3", got.Metadata.Version)
	}
}

func TestUpdateMemory_MissingIsNil(t *testing.T) {
	e := newTestEnv(t)
	content := "x"
	rec, err := e.svc.UpdateMemory(context.Background(), "nonexistent-id", UpdateInput{Content: &content})
	if err != nil {
		t.Fatalf("update of missing record must not error: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v, want nil", rec)
	}
}

func TestUpdateMemory_ReencryptsOnContentChange(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "original", TypeConversation, "", nil, nil, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newContent := "rewritten"
	updated, err := e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Content: &newContent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Content != "rewritten" {
		t.Errorf("got %q", updated.Content)
	}
	// Same key identity is preserved so the salt keeps regenerating it.
	if updated.Metadata.EncryptionKeyID != rec.Metadata.EncryptionKeyID {
		t.Error("content update changed the record's key ID")
	}

	got, err := e.svc.GetMemory(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("get: rec=%v err=%v", got, err)
	}
	if got.Content != "rewritten" {
		t.Errorf("round trip after re-encryption got %q", got.Content)
	}
}

func TestUpdateMemory_EnforcesPolicy(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "shared note", TypeAgentShare, "", nil, nil, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	content := "tampered"
	_, err = e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Content: &content, Actor: "agent-x"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}

	if _, err := e.svc.GrantPermission(ctx, rec.ID, "agent-x", []Action{ActionWrite}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	updated, err := e.svc.UpdateMemory(ctx, rec.ID, UpdateInput{Content: &content, Actor: "agent-x"})
	if err != nil {
		t.Fatalf("authorized update: %v", err)
	}
	if updated.Content != "tampered" {
		t.Errorf("got %q", updated.Content)
	}

	// Write permission does not imply delete.
	if _, err := e.svc.DeleteMemoryAs(ctx, rec.ID, "agent-x"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized for delete", err)
	}
}

func TestPermissionGrantRevoke(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, "note", TypeConversation, "", nil, nil, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := e.svc.GrantPermission(ctx, rec.ID, "agentX", []Action{ActionRead, ActionWrite})
	if err != nil || !ok {
		t.Fatalf("grant: ok=%v err=%v", ok, err)
	}

	perms, err := e.svc.GetMemoryPermissions(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(perms) != 1 || perms[0].AgentID != "agentX" || len(perms[0].Actions) != 2 {
		t.Fatalf("got %+v, want agentX with read+write", perms)
	}

	// Granting again merges instead of duplicating.
	if _, err := e.svc.GrantPermission(ctx, rec.ID, "agentX", []Action{ActionWrite, ActionDelete}); err != nil {
		t.Fatalf("merge grant: %v", err)
	}
	perms, _ = e.svc.GetMemoryPermissions(ctx, rec.ID)
	if len(perms) != 1 || len(perms[0].Actions) != 3 {
		t.Fatalf("got %+v, want merged actions", perms)
	}

	ok, err = e.svc.RevokePermission(ctx, rec.ID, "agentX")
	if err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	perms, _ = e.svc.GetMemoryPermissions(ctx, rec.ID)
	if len(perms) != 0 {
		t.Errorf("got %+v, want empty after revoke", perms)
	}

	ok, err = e.svc.RevokePermission(ctx, rec.ID, "agentX")
	if err != nil || ok {
		t.Errorf("second revoke: ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestGrantPermission_Validation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.svc.GrantPermission(ctx, "id", "", []Action{ActionRead}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty agent: got %v", err)
	}
	if _, err := e.svc.GrantPermission(ctx, "id", "a", []Action{Action("fly")}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad action: got %v", err)
	}
	if ok, err := e.svc.GrantPermission(ctx, "missing", "a", []Action{ActionRead}); err != nil || ok {
		t.Errorf("missing record: ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestSearchMemories_TypeFilterAndFacets(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.svc.CreateMemory(ctx, "a chat", TypeConversation, "general", nil, nil, false)
	e.svc.CreateMemory(ctx, "fact one", TypeLearnedFact, "science", []string{"physics"}, nil, false)
	e.svc.CreateMemory(ctx, "fact two", TypeLearnedFact, "science", nil, nil, false)

	res, err := e.svc.SearchMemories(ctx, SearchQuery{Type: TypeLearnedFact})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if res.TotalCount != 2 {
		t.Errorf("got total %d, want 2", res.TotalCount)
	}
	if res.Facets.Types["learned_fact"] != 2 {
		t.Errorf("got facets %+v, want learned_fact=2", res.Facets.Types)
	}
	if res.Facets.Categories["science"] != 2 {
		t.Errorf("got categories %+v", res.Facets.Categories)
	}
}

func TestSearchMemories_TextMatchesDecryptedContent(t *testing.T) {
	e := newTestEnv(t)
	e.unlock(t, "pw")
	ctx := context.Background()

	e.svc.CreateMemory(ctx, "secret mission alpha", TypeWorkflow, "", nil, nil, true)
	e.svc.CreateMemory(ctx, "grocery list", TypeUserPreference, "", nil, nil, false)

	res, err := e.svc.SearchMemories(ctx, SearchQuery{Text: "mission"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	if res.Records[0].Content != "secret mission alpha" {
		t.Errorf("got %q", res.Records[0].Content)
	}
}

func TestSearchMemories_Pagination(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		if _, err := e.svc.CreateMemory(ctx, c, TypeConversation, "", nil, nil, false); err != nil {
			t.Fatalf("create %s: %v", c, err)
		}
	}

	res, err := e.svc.SearchMemories(ctx, SearchQuery{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Records) != 2 || res.TotalCount != 3 {
		t.Errorf("got %d records total %d, want 2 of 3", len(res.Records), res.TotalCount)
	}

	res, _ = e.svc.SearchMemories(ctx, SearchQuery{Limit: 2, Offset: 2})
	if len(res.Records) != 1 {
		t.Errorf("got %d records at offset 2, want 1", len(res.Records))
	}
}

func TestSearchMemories_DegradesToEmpty(t *testing.T) {
	e := newTestEnv(t)
	e.ledger.listErr = errors.New("node unreachable")

	res, err := e.svc.SearchMemories(context.Background(), SearchQuery{Text: "anything"})
	if err != nil {
		t.Fatalf("search must not error: %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("got %d records, want 0", len(res.Records))
	}
}

func TestPayloadCeiling(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rec, err := e.svc.CreateMemory(ctx, strings.Repeat("m", 50_000), TypeMultimedia, "", nil, nil, false)
	if err != nil {
		t.Fatalf("oversize create must not fail: %v", err)
	}
	if len(rec.Content) != maxContentBytes {
		t.Errorf("got stored content length %d, want %d", len(rec.Content), maxContentBytes)
	}
	if !strings.HasSuffix(rec.Content, truncationMarker) {
		t.Error("stored content lacks truncation marker")
	}
	if rec.Metadata.Size != maxContentBytes {
		t.Errorf("got metadata size %d, want %d", rec.Metadata.Size, maxContentBytes)
	}
}

func TestGetStorageStats(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two"} {
		e.svc.CreateMemory(ctx, c, TypeConversation, "", nil, nil, false)
	}
	stats, err := e.svc.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("got %d memories, want 2", stats.TotalMemories)
	}
}
