package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/stash/pkg/adapters/memory"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/persistence/middleware"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	key := generateKey(t)
	ports.RunStoreContract(t, func(t *testing.T) ports.Store {
		return middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(memory.New())
	})
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	// Setup
	underlyingStore := memory.New()
	key := generateKey(t)
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	expiry := domain.ExpiresAt(time.Now().Add(time.Hour))
	original := domain.NewRecord("test-session", expiry)
	if err := original.Set("secret", "my-secret-sauce"); err != nil {
		t.Fatal(err)
	}

	// 1. Save
	if err := secureStore.Save(ctx, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Verify underlying store directly (should be encrypted)
	stored, err := underlyingStore.Load(ctx, original.ID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if stored.Has("secret") {
		t.Fatal("Expected secret to be hidden")
	}
	if !stored.Has(middleware.EncryptedKey) {
		t.Fatal("Expected __encrypted__ field in data")
	}
	if !stored.Expiry.Equal(expiry) {
		t.Errorf("Expected expiry to stay in the clear, got %s", stored.Expiry)
	}

	// 3. Load via middleware (should be decrypted)
	loaded, err := secureStore.Load(ctx, original.ID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	var secret string
	if _, err := loaded.Get("secret", &secret); err != nil || secret != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %q (%v)", secret, err)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	// Setup
	underlyingStore := memory.New()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("rotation-session", domain.NoExpiry())
	require.NoError(t, rec.Set("data", "encrypted-with-old-key"))

	// 1. Save with OLD key
	require.NoError(t, secureStoreOld.Save(ctx, rec))

	// 2. Load with NEW key (active) + OLD key (fallback)
	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, rec.ID)
	require.NoError(t, err, "Load with rotated key failed")
	var data string
	_, err = loaded.Get("data", &data)
	require.NoError(t, err)
	assert.Equal(t, "encrypted-with-old-key", data)

	// 3. Save again, now sealed with the NEW key
	require.NoError(t, loaded.Set("data", "encrypted-with-new-key"))
	require.NoError(t, secureStoreNew.Save(ctx, loaded))

	// 4. The OLD key alone can no longer open it
	_, err = secureStoreOld.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, middleware.ErrDecrypt)
	assert.Equal(t, domain.KindSerde, domain.KindOf(err))
}

func TestEncryptionMiddleware_PlainRecordFailsSecure(t *testing.T) {
	ctx := context.Background()
	underlyingStore := memory.New()
	plain := domain.NewRecord("plain", domain.NoExpiry())
	require.NoError(t, plain.Set("user", "ana"))
	require.NoError(t, underlyingStore.Save(ctx, plain))

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err := secureStore.Load(ctx, "plain")
	assert.ErrorIs(t, err, middleware.ErrMissingEnvelope)
	assert.ErrorIs(t, err, domain.ErrSerde)
}

func TestEncryptionMiddleware_CreateReportsID(t *testing.T) {
	ctx := context.Background()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(memory.New())

	rec := domain.NewRecord("", domain.NoExpiry())
	require.NoError(t, rec.Set("k", 1))
	require.NoError(t, secureStore.Create(ctx, rec))
	require.NotEmpty(t, rec.ID)

	loaded, err := secureStore.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Has("k"))
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}
