// Package crypto encrypts credential token files at rest using AES-256-GCM.
// Sealed files carry a short version prefix so plaintext files written by the
// external consent tool remain readable until they are migrated.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// sealedPrefix marks a file body produced by Seal.
var sealedPrefix = []byte("enc:v1:")

// ErrNoKey is returned when a sealed body is read without an encryptor.
var ErrNoKey = errors.New("token file is encrypted but ENCRYPTION_KEY is not configured")

// Encryptor provides authenticated encryption (AEAD).
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	key []byte
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key
// (for example the output of `openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	return &AESEncryptor{key: key}, nil
}

func (e *AESEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt returns nonce || ciphertext || tag.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt verifies and decrypts output of Encrypt.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(ciphertext))
	}
	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedPrefix)
}

// Seal encrypts a file body. A nil encryptor returns data unchanged.
func Seal(enc Encryptor, data []byte) ([]byte, error) {
	if enc == nil {
		return data, nil
	}
	ct, err := enc.Encrypt(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(ct)))
	out = append(out, sealedPrefix...)
	return base64.StdEncoding.AppendEncode(out, ct), nil
}

// Open reverses Seal. Unsealed (plaintext) bodies are returned as-is.
func Open(enc Encryptor, data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if enc == nil {
		return nil, ErrNoKey
	}
	ct, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data[len(sealedPrefix):])))
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	return enc.Decrypt(ct)
}
