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

package crypto_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "empty", plaintext: ""},
		{name: "short", plaintext: "hello"},
		{name: "json", plaintext: `{"access_token":"abc","refresh_token":"def"}`},
		{name: "unicode", plaintext: "héllo wörld 你好"},
	}

	c := crypto.New("a very secret value")

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			encoded, err := c.Encrypt(test.plaintext)
			require.NoError(t, err)
			assert.NotEmpty(t, encoded)

			decoded, err := c.Decrypt(encoded)
			require.NoError(t, err)
			assert.Equal(t, test.plaintext, decoded)
		})
	}
}

func TestDecryptFailsOnBitFlip(t *testing.T) {
	c := crypto.New("a very secret value")

	encoded, err := c.Encrypt("super secret session data")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	tampered := make([]byte, len(raw))
	copy(tampered, raw)
	tampered[len(tampered)-1] ^= 0x01

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
	assert.ErrorIs(t, err, crypto.ErrCrypto)
}

func TestDecryptFailsOnWrongSecret(t *testing.T) {
	encoded, err := crypto.New("secret-one").Encrypt("payload")
	require.NoError(t, err)

	_, err = crypto.New("secret-two").Decrypt(encoded)
	assert.ErrorIs(t, err, crypto.ErrCrypto)
}

func TestDecryptFailsOnGarbage(t *testing.T) {
	c := crypto.New("a very secret value")

	_, err := c.Decrypt("not-base64!!!")
	assert.ErrorIs(t, err, crypto.ErrCrypto)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.ErrorIs(t, err, crypto.ErrCrypto)
}

func TestDecryptNeverReturnsPartialPlaintextOnFailure(t *testing.T) {
	c := crypto.New("a very secret value")

	encoded, err := c.Encrypt("never leak this")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[20] ^= 0xFF

	plaintext, err := c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	require.Error(t, err)
	assert.Empty(t, plaintext)
}
