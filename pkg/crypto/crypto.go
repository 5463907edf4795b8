/*
Copyright (C) 2022-2023 Traefik Labs

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

// Package crypto provides authenticated encryption of short UTF-8 strings
// (session tokens, state payloads) using AES-256-GCM with a PBKDF2-derived
// per-message key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	version = 1

	nonceSize = 12
	saltSize  = 64
	keySize   = 32
	tagSize   = 16

	// minBlobSize is version(1) + nonce(12) + salt(64) + tag(16), the
	// smallest possible encrypted blob (empty plaintext).
	minBlobSize = 1 + nonceSize + saltSize + tagSize

	// DefaultIterations is cryptographically weak (PBKDF2 with 4
	// iterations) but kept as-is for cookie compatibility with existing
	// deployments. NewWithIterations takes a different count; the gateway
	// builds its Cipher with New, and no setting or flag changes the count.
	DefaultIterations = 4
)

// ErrCrypto is returned for every encryption or decryption failure. The
// underlying cause is never surfaced to callers: cipher init, nonce
// construction, base64 decoding, AEAD authentication, and undersized
// blobs all collapse to this single error.
var ErrCrypto = errors.New("crypto: operation failed")

// Cipher encrypts and decrypts opaque strings with a master secret.
type Cipher struct {
	secret     []byte
	iterations int
}

// New returns a Cipher using the default (weak, by design) iteration count.
func New(secret string) *Cipher {
	return NewWithIterations(secret, DefaultIterations)
}

// NewWithIterations returns a Cipher deriving its per-message key with the
// given number of PBKDF2 iterations.
func NewWithIterations(secret string, iterations int) *Cipher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Cipher{secret: []byte(secret), iterations: iterations}
}

// Encrypt encrypts plaintext and returns a base64 blob laid out as
// version(1) || nonce(12) || salt(64) || ciphertext(len(plaintext)) || tag(16).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrCrypto, err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", ErrCrypto, err)
	}

	gcm, err := c.cipher(salt)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, minBlobSize+len(plaintext))
	blob = append(blob, byte(version))
	blob = append(blob, nonce...)
	blob = append(blob, salt...)
	blob = gcm.Seal(blob, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. Any tampering, truncation, or wrong-secret
// attempt fails with ErrCrypto and never returns partial plaintext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrCrypto, err)
	}
	if len(blob) < minBlobSize {
		return "", fmt.Errorf("%w: blob too short", ErrCrypto)
	}

	nonce := blob[1 : 1+nonceSize]
	salt := blob[1+nonceSize : 1+nonceSize+saltSize]
	ciphertext := blob[1+nonceSize+saltSize:]

	gcm, err := c.cipher(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: open failed", ErrCrypto)
	}

	return string(plaintext), nil
}

func (c *Cipher) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, c.iterations, keySize, sha512.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrCrypto, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", ErrCrypto, err)
	}

	return gcm, nil
}
