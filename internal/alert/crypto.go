package alert

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// nonceSize is the random prefix prepended to every ciphertext.
const nonceSize = 12

// Cipher encrypts channel payloads with AES-CTR under a pre-shared key.
type Cipher struct {
	key []byte
}

// NewCipher parses a base64 pre-shared key. Only AES-128 and AES-256 key
// sizes are accepted.
func NewCipher(psk string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(psk)
	if err != nil {
		return nil, fmt.Errorf("decode psk: %w", err)
	}
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("psk must be 16 or 32 bytes, got %d", len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt returns nonce || AES-CTR(plaintext) with a fresh 96-bit nonce.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, nonceSize+len(plain))
	if _, err := rand.Read(out[:nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, out[:nonceSize])
	cipher.NewCTR(block, iv).XORKeyStream(out[nonceSize:], plain)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, data[:nonceSize])
	out := make([]byte, len(data)-nonceSize)
	cipher.NewCTR(block, iv).XORKeyStream(out, data[nonceSize:])
	return out, nil
}
