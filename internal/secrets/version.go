package secrets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maisiliym/trustless/internal/memguard"
)

// SecretAttachment is an opaque named payload stored with a version.
type SecretAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  []byte `json:"content"`
}

// SecretVersion is one decrypted record of a secret. Versions are
// immutable; an edit appends a new version with a later timestamp, a
// delete appends a tombstone version.
type SecretVersion struct {
	SecretID    string             `json:"secret_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Name        string             `json:"name"`
	Type        SecretType         `json:"type"`
	Tags        []string           `json:"tags,omitempty"`
	URLs        []string           `json:"urls,omitempty"`
	Properties  map[string]string  `json:"properties,omitempty"`
	Attachments []SecretAttachment `json:"attachments,omitempty"`
	Deleted     bool               `json:"deleted,omitempty"`
}

// Validate checks the structural invariants of a version.
func (v *SecretVersion) Validate() error {
	if v.SecretID == "" {
		return fmt.Errorf("%w: empty secret id", ErrInvalidVersion)
	}
	if v.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidVersion)
	}
	if v.Name == "" && !v.Deleted {
		return fmt.Errorf("%w: empty name", ErrInvalidVersion)
	}
	if v.Type == "" && !v.Deleted {
		return fmt.Errorf("%w: empty type", ErrInvalidVersion)
	}
	for name := range v.Properties {
		if name == "" {
			return fmt.Errorf("%w: empty property name", ErrInvalidVersion)
		}
	}
	return nil
}

// entry projects the version onto its index representation.
func (v *SecretVersion) entry() SecretEntry {
	return SecretEntry{
		ID:        v.SecretID,
		Name:      v.Name,
		Type:      v.Type,
		Tags:      v.Tags,
		URLs:      v.URLs,
		Timestamp: v.Timestamp,
		Deleted:   v.Deleted,
	}
}

// encodeVersion serializes a version into a zeroizing buffer; the
// serialized form is the plaintext of a block.
func encodeVersion(v *SecretVersion) (*memguard.SecretBytes, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	return memguard.FromBytes(data), nil
}

// decodeVersion parses a decrypted block payload.
func decodeVersion(plaintext *memguard.SecretBytes) (*SecretVersion, error) {
	var v SecretVersion
	if err := json.Unmarshal(plaintext.Borrow(), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}
