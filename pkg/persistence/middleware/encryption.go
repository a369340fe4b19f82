package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// EncryptedKey is the only data key an encrypted record exposes to the wrapped store.
const EncryptedKey = "__encrypted__"

var (
	// ErrMissingEnvelope is reported when a loaded record carries no ciphertext.
	ErrMissingEnvelope = errors.New("session is missing encrypted data envelope")
	// ErrDecrypt is reported when no configured key opens the ciphertext.
	ErrDecrypt = errors.New("decryption failed with all available keys")
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	passthrough
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals session data with
// AES-GCM. The expiry stays in the clear so backends can still expire records.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{
			passthrough: passthrough{next: next},
			config:      config,
		}
	}
}

func (m *encryptionMiddleware) Create(ctx context.Context, rec *domain.Record) error {
	envelope, err := m.seal(rec)
	if err != nil {
		return err
	}
	if err := m.next.Create(ctx, envelope); err != nil {
		return err
	}
	rec.ID = envelope.ID
	return nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	envelope, err := m.seal(rec)
	if err != nil {
		return err
	}
	return m.next.Save(ctx, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	envelope, err := m.next.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, ok := envelope.Data[EncryptedKey]
	if !ok {
		// Fail secure: plain records are not passed through.
		return nil, domain.SerdeError("decrypt", ErrMissingEnvelope)
	}
	var ciphertext []byte
	if err := domain.DecodeValue(raw, &ciphertext); err != nil {
		return nil, domain.SerdeError("decrypt", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, domain.SerdeError("decrypt", err)
	}

	inner, err := codec.DecodeFor(envelope.ID, plainText)
	if err != nil {
		return nil, domain.SerdeError("decrypt", err)
	}
	inner.Expiry = envelope.Expiry
	return inner, nil
}

// seal returns a record holding the encrypted data of rec under EncryptedKey.
func (m *encryptionMiddleware) seal(rec *domain.Record) (*domain.Record, error) {
	plain := &domain.Record{ID: rec.ID, Data: rec.Data, Expiry: domain.NoExpiry()}
	plainText, err := codec.Encode(plain)
	if err != nil {
		return nil, domain.SerdeError("encrypt", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, domain.IOError("encrypt", err)
	}
	value, err := domain.EncodeValue(ciphertext)
	if err != nil {
		return nil, domain.SerdeError("encrypt", err)
	}

	envelope := domain.NewRecord(rec.ID, rec.Expiry)
	envelope.Data[EncryptedKey] = value
	return envelope, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, ErrDecrypt
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
