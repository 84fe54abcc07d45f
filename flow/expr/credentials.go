package expr

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	flowerrors "n3n.dev/core/flow/errors"
)

// Credential is an at-rest secret a node config can reference by ID rather
// than embedding the secret value inline. Token is the base64 ciphertext
// produced by CredentialResolver.Seal.
type Credential struct {
	ID      string
	UserID  string
	Token   string
	Revoked bool
}

// CredentialStore looks credentials up by ID. Implementations need not be
// safe for registration at runtime; MapCredentialStore is the in-memory
// reference implementation.
type CredentialStore interface {
	Get(id string) (Credential, bool)
}

// MapCredentialStore is a CredentialStore backed by a plain map, the
// reference implementation for single-process deployments and tests.
type MapCredentialStore map[string]Credential

// Get implements CredentialStore.
func (s MapCredentialStore) Get(id string) (Credential, bool) {
	c, ok := s[id]
	return c, ok
}

// CredentialResolver decrypts at-rest credential values referenced from node
// configuration. Credentials never appear in a flow definition in plaintext;
// config values carry a credential ID that the resolver turns into a usable
// secret immediately before a handler runs, enforcing ownership and
// revocation along the way, so plaintext secrets never round-trip through
// storage or logs.
type CredentialResolver struct {
	key   [32]byte
	store CredentialStore
}

// NewCredentialResolver returns a resolver sealed with key, a 32-byte
// secretbox key, looking credentials up in store. Typically constructed once
// at process start from a configured master key.
func NewCredentialResolver(key [32]byte, store CredentialStore) *CredentialResolver {
	return &CredentialResolver{key: key, store: store}
}

// Seal encrypts plaintext into a base64 token suitable for storage on a
// Credential.
func (r *CredentialResolver) Seal(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", flowerrors.Fatal("credential_seal_failed", "failed to generate nonce", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &r.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Resolve implements the Credential Resolver's resolve(credentialId, userId)
// contract: it looks up the credential, rejects it with CredentialDenied if
// it does not belong to userID or has been revoked, decrypts its token, and
// unmarshals the plaintext as a JSON object.
func (r *CredentialResolver) Resolve(credentialID, userID string) (map[string]any, error) {
	cred, ok := r.store.Get(credentialID)
	if !ok {
		return nil, flowerrors.PermissionDenied("credential_denied", fmt.Sprintf("credential %q does not exist", credentialID))
	}
	if cred.Revoked {
		return nil, flowerrors.PermissionDenied("credential_denied", fmt.Sprintf("credential %q has been revoked", credentialID))
	}
	if cred.UserID != userID {
		return nil, flowerrors.PermissionDenied("credential_denied", fmt.Sprintf("credential %q does not belong to user %q", credentialID, userID))
	}

	plaintext, err := r.decrypt(cred.Token)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, flowerrors.Validation("invalid_credential_payload", "decrypted credential is not a JSON object")
	}
	return out, nil
}

// decrypt reverses Seal.
func (r *CredentialResolver) decrypt(token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, flowerrors.Validation("invalid_credential_token", "credential token is not valid base64")
	}
	if len(raw) < 24 {
		return nil, flowerrors.Validation("invalid_credential_token", "credential token is too short to contain a nonce")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &r.key)
	if !ok {
		return nil, flowerrors.PermissionDenied("credential_decrypt_failed", "credential could not be decrypted with the configured key")
	}
	return plaintext, nil
}
