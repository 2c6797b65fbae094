// Package secrets implements the secrets store: identity management,
// the lock state machine, and versioned secret storage on top of the
// cipher and the block store.
package secrets

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLocked is returned when secrets are accessed in the locked state.
	ErrLocked = errors.New("store is locked")

	// ErrAlreadyUnlocked is returned when unlocking an unlocked store.
	ErrAlreadyUnlocked = errors.New("store is already unlocked")

	// ErrInvalidPassphrase is returned when the passphrase cannot open
	// the identity's sealed private key.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrTooManyAttempts is returned when unlock attempts exceed the
	// rate limit.
	ErrTooManyAttempts = errors.New("too many unlock attempts")

	// ErrIdentityNotFound is returned when an identity id is not in the ring.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrIdentityExists is returned when adding an identity whose id is
	// already in the ring.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrSecretNotFound is returned on an index miss.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrInvalidVersion is returned when a secret version fails
	// structural validation.
	ErrInvalidVersion = errors.New("invalid secret version")
)

// Identity is a named keypair: the unit of authentication (passphrase)
// and authorization (recipient) within a store.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (i Identity) validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: empty identity id", ErrInvalidVersion)
	}
	if i.Name == "" {
		return fmt.Errorf("%w: empty identity name", ErrInvalidVersion)
	}
	return nil
}

// Status is the lock state of a store projected for clients.
type Status struct {
	Locked     bool       `json:"locked"`
	UnlockedBy *Identity  `json:"unlocked_by,omitempty"`
	AutolockAt *time.Time `json:"autolock_at,omitempty"`
}

// SecretType classifies a secret for listing and display.
type SecretType string

const (
	TypeLogin    SecretType = "login"
	TypeNote     SecretType = "note"
	TypeLicence  SecretType = "licence"
	TypeWLAN     SecretType = "wlan"
	TypePassword SecretType = "password"
	TypeOther    SecretType = "other"
)

// Well-known property names. Password-like properties are masked in
// display output; the TOTP URL property is turned into tokens on read.
const (
	PropertyUsername = "username"
	PropertyPassword = "password"
	PropertyTOTPURL  = "totpUrl"
	PropertyNotes    = "notes"
)

// BlurredProperty reports whether a property value should be masked in
// display output.
func BlurredProperty(name string) bool {
	return name == PropertyPassword || name == PropertyTOTPURL
}

// SecretVersionRef points at one stored version of a secret.
type SecretVersionRef struct {
	BlockID   string    `json:"block_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SecretEntry is the index projection of a secret used for listing and
// filtering without decryption.
type SecretEntry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      SecretType `json:"type"`
	Tags      []string   `json:"tags,omitempty"`
	URLs      []string   `json:"urls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// Secret is the derived view of a logical secret: its current version
// plus references to the full version history.
type Secret struct {
	ID             string             `json:"id"`
	Current        *SecretVersion     `json:"current"`
	CurrentBlockID string             `json:"current_block_id"`
	Versions       []SecretVersionRef `json:"versions"`
}

// ListFilter selects secrets from the index. Zero-valued fields do not
// constrain the result. Deleted selects tombstoned secrets instead of
// live ones.
type ListFilter struct {
	Name    string     `json:"name,omitempty"`
	Tag     string     `json:"tag,omitempty"`
	Type    SecretType `json:"type,omitempty"`
	Deleted bool       `json:"deleted,omitempty"`
}
