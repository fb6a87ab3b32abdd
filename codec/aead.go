package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD encrypts payloads at rest in the durable tiers using
// XChaCha20-Poly1305. The nonce is prepended to the ciphertext.
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD builds the transform from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("codec: aead key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

func (*AEAD) Name() string { return "xchacha20poly1305" }

func (a *AEAD) Encode(data []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return a.aead.Seal(nonce, nonce, data, nil), nil
}

func (a *AEAD) Decode(data []byte) ([]byte, error) {
	if len(data) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("codec: ciphertext shorter than nonce")
	}
	nonce, ct := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
	return a.aead.Open(nil, nonce, ct, nil)
}
