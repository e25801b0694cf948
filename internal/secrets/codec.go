package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Codec encrypts connection secrets at rest.
type Codec interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Vault keys read by AESCodec.
const (
	MasterKeyName         = "FORGETRACK_MASTER_KEY"
	PreviousMasterKeyName = "FORGETRACK_MASTER_KEY_PREVIOUS"
)

const (
	envelopeV1 byte = 1
	nonceSize       = 12 // standard GCM nonce length
	keySize         = 32
	minMasterKeyLen = 32
	hkdfInfo        = "forgetrack/connection-secrets/v1"
)

var (
	// ErrMasterKeyMissing is returned when the vault holds no usable master key.
	ErrMasterKeyMissing = errors.New("secrets: master key missing or shorter than 32 characters")
	// ErrMalformedCiphertext is returned for envelopes this codec did not write.
	ErrMalformedCiphertext = errors.New("secrets: malformed ciphertext")
)

// AESCodec is an AES-256-GCM Codec whose key is derived with HKDF-SHA256
// from the master key held in a Vault. Envelopes are
// version(1) || nonce(12) || sealed. Reloading the vault rotates the key;
// ciphertexts written under PreviousMasterKeyName stay readable.
type AESCodec struct {
	vault *Vault

	mu      sync.Mutex
	derived map[string][]byte // master key -> derived key
}

// NewAESCodec checks the vault holds a master key and returns the codec.
func NewAESCodec(v *Vault) (*AESCodec, error) {
	if len(v.Get(MasterKeyName)) < minMasterKeyLen {
		return nil, ErrMasterKeyMissing
	}
	return &AESCodec{vault: v, derived: make(map[string][]byte, 2)}, nil
}

// Encrypt seals plaintext under the current master key.
func (c *AESCodec) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := c.aead(c.vault.Get(MasterKeyName))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+gcm.Overhead())
	out[0] = envelopeV1
	nonce := out[1 : 1+nonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	return gcm.Seal(out, nonce, plaintext, []byte{envelopeV1}), nil
}

// Decrypt opens an envelope written by Encrypt, trying the current and then
// the previous master key.
func (c *AESCodec) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1+nonceSize || ciphertext[0] != envelopeV1 {
		return nil, ErrMalformedCiphertext
	}
	nonce := ciphertext[1 : 1+nonceSize]
	sealed := ciphertext[1+nonceSize:]

	var lastErr error = ErrMasterKeyMissing
	for _, name := range []string{MasterKeyName, PreviousMasterKeyName} {
		master := c.vault.Get(name)
		if master == "" {
			continue
		}
		gcm, err := c.aead(master)
		if err != nil {
			lastErr = err
			continue
		}
		plaintext, err := gcm.Open(nil, nonce, sealed, []byte{envelopeV1})
		if err == nil {
			return plaintext, nil
		}
		lastErr = fmt.Errorf("gcm.Open: %w", err)
	}
	return nil, lastErr
}

func (c *AESCodec) aead(master string) (cipher.AEAD, error) {
	if len(master) < minMasterKeyLen {
		return nil, ErrMasterKeyMissing
	}
	key, err := c.key(master)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func (c *AESCodec) key(master string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.derived[master]; ok {
		return k, nil
	}
	k, err := DeriveKey(master)
	if err != nil {
		return nil, err
	}
	if len(c.derived) >= 4 {
		clear(c.derived)
	}
	c.derived[master] = k
	return k, nil
}

// DeriveKey derives the 32-byte AES-256 key from a master key.
func DeriveKey(master string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(master), nil, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
