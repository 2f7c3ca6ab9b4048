// Package vault seals small secrets, such as the model provider API key, with a
// passphrase-derived key before they are written to the data directory.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SealedPrefix marks a string produced by Seal.
const SealedPrefix = "enc:v1:"

var ErrNotSealed = errors.New("value is not sealed")

// Vault encrypts with AES-256-GCM under a key derived from a passphrase.
type Vault struct {
	key [32]byte
}

// New derives the key with Argon2id. The salt is the SHA-256 of the
// passphrase, so a passphrase always maps to the same key.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	v := &Vault{}
	copy(v.key[:], argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32))
	return v
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt returns the ciphertext and the random nonce used for it.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts a string into a self-contained text form suitable for a JSON
// document: prefix, then base64 of nonce followed by ciphertext.
func (v *Vault) Seal(plaintext string) (string, error) {
	ct, nonce, err := v.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("sealed value too short")
	}
	plaintext, err := v.Decrypt(raw[gcm.NonceSize():], raw[:gcm.NonceSize()])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func IsSealed(s string) bool {
	return strings.HasPrefix(s, SealedPrefix)
}
