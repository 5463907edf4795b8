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

package jwtsigner_test

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhangai/auth-gatekeeper/pkg/jwtsigner"
)

func TestEncodeValuePassthroughWithoutSecret(t *testing.T) {
	s := jwtsigner.New("")

	value := map[string]interface{}{"sub": "user-1"}
	out, err := s.EncodeValue(value)
	require.NoError(t, err)
	assert.Equal(t, value, out)
}

func TestEncodeValueSignsObjectPayload(t *testing.T) {
	s := jwtsigner.New("signing-secret")

	value := map[string]interface{}{"sub": "user-1", "email": "user@example.com"}
	out, err := s.EncodeValue(value)
	require.NoError(t, err)

	token, ok := out.(string)
	require.True(t, ok)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("signing-secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestEncodeStrSignsNonObjectPayload(t *testing.T) {
	s := jwtsigner.New("signing-secret")

	out, err := s.EncodeStr("a raw opaque id token string")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(out, ".")))
	assert.NotEqual(t, "a raw opaque id token string", out)
}

func TestEncodeStrPassthroughWithoutSecret(t *testing.T) {
	s := jwtsigner.New("")

	out, err := s.EncodeStr("a raw opaque id token string")
	require.NoError(t, err)
	assert.Equal(t, "a raw opaque id token string", out)
}
