// Package vault encrypts minion secrets at rest. Values are sealed with
// AES-256-GCM under a key derived from the operator passphrase, so the
// database never holds plaintext credentials.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Vault seals and opens secret values with a passphrase-derived key.
type Vault struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from the passphrase with Argon2id and builds
// the AEAD once. The salt is the SHA-256 of the passphrase itself, so the
// same passphrase yields the same key across restarts; losing the
// passphrase loses every stored secret.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	// Neither call can fail for a 32-byte key.
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(fmt.Sprintf("vault cipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("vault gcm: %v", err))
	}
	return &Vault{aead: aead}
}

// Encrypt seals plaintext under a fresh random nonce. Both the ciphertext
// and the nonce must be stored to decrypt later.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens a sealed value. A wrong passphrase or tampered ciphertext
// fails authentication rather than returning garbage.
func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
