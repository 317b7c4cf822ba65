package persist

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"pkt.systems/tabkeep/schema"
)

// KeySize is the incognito key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Cipher seals incognito state with a key that only lives in memory.
type Cipher struct {
	aead cipher.AEAD
}

// NewKey returns a fresh random key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewCipher constructs a Cipher for key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", schema.ErrMissingKey, KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plain and prefixes the nonce.
func (c *Cipher) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts data produced by Seal.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	size := c.aead.NonceSize()
	if len(data) < size+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed data too short", schema.ErrUnreadableTabState)
	}
	plain, err := c.aead.Open(nil, data[:size], data[size:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrUnreadableTabState, errors.Join(schema.ErrMissingKey, err))
	}
	return plain, nil
}
