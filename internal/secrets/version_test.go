package secrets

import (
	"errors"
	"testing"
	"time"
)

func TestVersionValidate(t *testing.T) {
	valid := testVersion("s1", "example.com")
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() of valid version error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SecretVersion)
	}{
		{"missing secret id", func(v *SecretVersion) { v.SecretID = "" }},
		{"zero timestamp", func(v *SecretVersion) { v.Timestamp = time.Time{} }},
		{"missing name", func(v *SecretVersion) { v.Name = "" }},
		{"missing type", func(v *SecretVersion) { v.Type = "" }},
		{"empty property name", func(v *SecretVersion) { v.Properties[""] = "x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVersion("s1", "example.com")
			tt.mutate(&v)
			if err := v.Validate(); !errors.Is(err, ErrInvalidVersion) {
				t.Errorf("Validate() error = %v, want ErrInvalidVersion", err)
			}
		})
	}
}

func TestTombstoneValidates(t *testing.T) {
	tombstone := SecretVersion{
		SecretID:  "s1",
		Timestamp: time.Now(),
		Deleted:   true,
	}
	if err := tombstone.Validate(); err != nil {
		t.Errorf("Validate() of tombstone error = %v", err)
	}
}

func TestVersionEncodeDecode(t *testing.T) {
	v := testVersion("s1", "example.com")
	v.Attachments = []SecretAttachment{{Name: "recovery-codes.txt", MimeType: "text/plain", Content: []byte("1234")}}

	encoded, err := encodeVersion(&v)
	if err != nil {
		t.Fatalf("encodeVersion() error = %v", err)
	}
	defer encoded.Close()

	decoded, err := decodeVersion(encoded)
	if err != nil {
		t.Fatalf("decodeVersion() error = %v", err)
	}
	if decoded.SecretID != v.SecretID || decoded.Name != v.Name || decoded.Type != v.Type {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Properties[PropertyUsername] != "user-s1" {
		t.Errorf("properties = %+v", decoded.Properties)
	}
	if len(decoded.Attachments) != 1 || decoded.Attachments[0].Name != "recovery-codes.txt" {
		t.Errorf("attachments = %+v", decoded.Attachments)
	}
}

func TestDecodeVersionRejectsGarbage(t *testing.T) {
	garbage := passphrase("not json at all")
	defer garbage.Close()

	if _, err := decodeVersion(garbage); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("decodeVersion() error = %v, want ErrInvalidVersion", err)
	}
}

func TestBlurredProperty(t *testing.T) {
	if !BlurredProperty(PropertyPassword) || !BlurredProperty(PropertyTOTPURL) {
		t.Error("password-like properties should be blurred")
	}
	if BlurredProperty(PropertyUsername) || BlurredProperty(PropertyNotes) {
		t.Error("plain properties should not be blurred")
	}
}
