package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/stash/pkg/adapters/memory"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	// Setup
	underlyingStore := memory.New()
	// Mask keys containing "password" or "ssn"
	mw := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	rec := domain.NewRecord("pii-session", domain.NoExpiry())

	// Populate with mixed data
	for k, v := range map[string]string{
		"username":      "jdoe",
		"user_password": "secret123",
		"ssn_number":    "999-99-9999",
		"safe_data":     "public",
	} {
		if err := rec.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}

	// 1. Save
	if err := secureStore.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify in-memory record is NOT modified
	var password string
	if _, err := rec.Get("user_password", &password); err != nil || password != "secret123" {
		t.Error("Middleware modified original record in memory!")
	}

	// 2. Load from underlying store (should be masked)
	stored, err := underlyingStore.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}

	get := func(key string) string {
		var s string
		if _, err := stored.Get(key, &s); err != nil {
			t.Fatalf("Get %s: %v", key, err)
		}
		return s
	}
	if get("username") != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if got := get("user_password"); got != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", got)
	}
	if got := get("ssn_number"); got != middleware.Mask {
		t.Errorf("SSN should be masked, got: %v", got)
	}
}

func TestPIIMiddleware_CreateMasks(t *testing.T) {
	ctx := context.Background()
	underlyingStore := memory.New()
	secureStore := middleware.NewPIIMiddleware([]string{"^token$"})(underlyingStore)

	rec := domain.NewRecord("", domain.NoExpiry())
	if err := rec.Set("token", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := secureStore.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Create should report the generated id")
	}

	stored, err := underlyingStore.Load(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	var token string
	if _, err := stored.Get("token", &token); err != nil || token != middleware.Mask {
		t.Errorf("token should be masked, got %q", token)
	}
}
