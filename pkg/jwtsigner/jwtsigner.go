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

// Package jwtsigner optionally wraps an arbitrary JSON value in an
// HS256-signed JWT. Unlike most JWT libraries, the payload here is not
// required to be a JSON object: a userinfo value that failed to decode
// as structured JSON may be forwarded as a bare string, so this signer
// operates below golang-jwt's Claims/MapClaims abstraction.
package jwtsigner

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Signer encodes values into HS256 JWTs when a secret is configured, or
// passes them through unsigned otherwise.
type Signer struct {
	key []byte
}

// New returns a Signer. An empty secret disables signing: EncodeValue and
// EncodeStr then act as a passthrough, matching the original gatekeeper's
// behaviour of running without a jwt_secret configured.
func New(secret string) *Signer {
	if secret == "" {
		return &Signer{}
	}
	return &Signer{key: []byte(secret)}
}

// EncodeValue signs value and returns the compact JWT as a string, or
// returns value unchanged if no secret was configured.
func (s *Signer) EncodeValue(value interface{}) (interface{}, error) {
	if s.key == nil {
		return value, nil
	}

	token, err := s.sign(value)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// EncodeStr signs value and returns the compact JWT, or, with no secret
// configured, returns its JSON string representation (or the string
// itself, if value already is one).
func (s *Signer) EncodeStr(value interface{}) (string, error) {
	if s.key == nil {
		if str, ok := value.(string); ok {
			return str, nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("jwtsigner: marshal: %w", err)
		}
		return string(raw), nil
	}

	return s.sign(value)
}

// sign marshals value to JSON and signs it as the payload of an HS256 JWT,
// bypassing golang-jwt's Claims interface since value need not be a
// JSON object.
func (s *Signer) sign(value interface{}) (string, error) {
	header := map[string]string{
		"alg": jwt.SigningMethodHS256.Alg(),
		"typ": "JWT",
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("jwtsigner: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("jwtsigner: marshal payload: %w", err)
	}

	signingString := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)

	signature, err := jwt.SigningMethodHS256.Sign(signingString, s.key)
	if err != nil {
		return "", fmt.Errorf("jwtsigner: sign: %w", err)
	}

	return signingString + "." + signature, nil
}
