// Package crypto provides at-rest encryption for stored OAuth tokens.
// Access and refresh tokens are bearer secrets with long lifetimes; the
// credential repository never writes them to PostgreSQL in plaintext.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"searchpulse/internal/types"
)

// TokenCipher seals and opens token values with XChaCha20-Poly1305.
// Ciphertexts are self-contained: a random 24-byte nonce is prepended and
// the whole blob is base64-encoded for storage in a text column.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher creates a TokenCipher from a 64-hex-character key
// (32 bytes decoded), as carried in SyncConfig.TokenCipherKey.
func NewTokenCipher(hexKey types.SecretString) (*TokenCipher, error) {
	key, err := hex.DecodeString(hexKey.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"token cipher key is not valid hex", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("token cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key)), nil)
	}
	return &TokenCipher{key: key}, nil
}

// Seal encrypts a plaintext token for storage. An empty plaintext seals to
// an empty string so optional tokens round-trip without special cases.
func (c *TokenCipher) Seal(plaintext types.SecretString) (string, error) {
	raw := plaintext.Unmask()
	if raw == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "creating AEAD cipher", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "generating nonce", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(raw), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored token value. An empty ciphertext opens to the
// empty string.
func (c *TokenCipher) Open(encoded string) (types.SecretString, error) {
	if encoded == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "decoding stored token", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "creating AEAD cipher", err)
	}

	if len(sealed) < aead.NonceSize() {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "stored token ciphertext too short", nil)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "opening stored token", err)
	}

	return types.SecretString(plaintext), nil
}
