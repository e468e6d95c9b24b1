package crypto

import (
	"errors"
	"testing"

	"github.com/nidhogg/golem-vault/internal/keys"
	"go.uber.org/zap"
)

func newTestKeys(t *testing.T) *keys.Manager {
	t.Helper()
	km := keys.NewManager(zap.NewNop())
	if err := km.InitializeWithPassword("test-password"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return km
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	km := newTestKeys(t)
	svc := NewService(zap.NewNop())

	key, err := km.GenerateMemoryKey("mem-1", nil)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	cases := []string{
		"hello world",
		"",
		"unicode: héllo wörld 你好",
		`{"nested":"json","n":42}`,
	}
	for _, plaintext := range cases {
		env, err := svc.Encrypt(plaintext, key.KeyID, km)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if env.Algorithm != keys.Algorithm {
			t.Errorf("got algorithm %q, want %q", env.Algorithm, keys.Algorithm)
		}
		got, err := svc.Decrypt(env, key.KeyID, km)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncrypt_KeyNotFound(t *testing.T) {
	km := newTestKeys(t)
	svc := NewService(zap.NewNop())

	_, err := svc.Encrypt("data", "memory_unknown", km)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	km := newTestKeys(t)
	svc := NewService(zap.NewNop())

	k1, _ := km.GenerateMemoryKey("mem-1", nil)
	k2, _ := km.GenerateMemoryKey("mem-2", nil)

	env, err := svc.EncryptWithKey("secret", k1)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	_, err = svc.DecryptWithKey(env, k2)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	km := newTestKeys(t)
	svc := NewService(zap.NewNop())

	key, _ := km.GenerateMemoryKey("mem-1", nil)
	env, _ := svc.EncryptWithKey("secret", key)

	env.Tag = env.IV // garbage tag of plausible encoding
	if _, err := svc.DecryptWithKey(env, key); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("got %v, want ErrDecryptionFailed", err)
	}
}

func TestParseEnvelope(t *testing.T) {
	km := newTestKeys(t)
	svc := NewService(zap.NewNop())

	key, _ := km.GenerateMemoryKey("mem-1", nil)
	env, _ := svc.EncryptWithKey("payload", key)

	serialized, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseEnvelope(serialized)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := svc.DecryptWithKey(parsed, key)
	if err != nil {
		t.Fatalf("decrypt parsed: %v", err)
	}
	if got != "payload" {
		t.Errorf("got %q, want %q", got, "payload")
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	for _, content := range []string{"not json", "{}", `{"iv":"x"}`} {
		if _, err := ParseEnvelope(content); err == nil {
			t.Errorf("parse of %q succeeded, want error", content)
		}
	}
}
