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

package statetoken_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
	"github.com/rhangai/auth-gatekeeper/pkg/statetoken"
)

func TestRoundTripWithURL(t *testing.T) {
	cipher := crypto.New("secret")
	u := "/app/home"

	encoded, err := statetoken.Serialize(cipher, &u)
	require.NoError(t, err)

	data, err := statetoken.Deserialize(cipher, encoded)
	require.NoError(t, err)
	require.NotNil(t, data.URL)
	assert.Equal(t, u, *data.URL)
}

func TestRoundTripWithoutURL(t *testing.T) {
	cipher := crypto.New("secret")

	encoded, err := statetoken.Serialize(cipher, nil)
	require.NoError(t, err)

	data, err := statetoken.Deserialize(cipher, encoded)
	require.NoError(t, err)
	assert.Nil(t, data.URL)
}
