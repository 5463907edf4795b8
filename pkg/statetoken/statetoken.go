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

// Package statetoken round-trips the post-login redirect target through
// the provider's `state` query parameter as an opaque encrypted blob.
package statetoken

import (
	"encoding/json"
	"fmt"

	"github.com/rhangai/auth-gatekeeper/pkg/crypto"
)

// Data is the JSON payload carried inside the encrypted state value.
type Data struct {
	URL *string `json:"url,omitempty"`
}

// Serialize JSON-encodes and encrypts url (which may be nil).
func Serialize(cipher *crypto.Cipher, url *string) (string, error) {
	raw, err := json.Marshal(Data{URL: url})
	if err != nil {
		return "", fmt.Errorf("statetoken: marshal: %w", err)
	}

	encrypted, err := cipher.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("statetoken: encrypt: %w", err)
	}

	return encrypted, nil
}

// Deserialize decrypts and JSON-decodes s back into a Data value.
func Deserialize(cipher *crypto.Cipher, s string) (*Data, error) {
	plaintext, err := cipher.Decrypt(s)
	if err != nil {
		return nil, fmt.Errorf("statetoken: decrypt: %w", err)
	}

	var data Data
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("statetoken: unmarshal: %w", err)
	}

	return &data, nil
}
