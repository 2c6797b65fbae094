// Package clipboard provides debounced delivery of secret properties to
// OS paste requests.
package clipboard

import (
	"errors"
	"time"

	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/otp"
	"github.com/maisiliym/trustless/internal/secrets"
)

// ErrNotAvailable is returned when the platform has no clipboard
// integration.
var ErrNotAvailable = errors.New("clipboard not available on this platform")

// SelectionProvider yields values for consecutive paste requests.
// GetSelection hands ownership of the returned buffer to the caller
// together with the property name it serves; ok=false means the
// provider is exhausted.
type SelectionProvider interface {
	CurrentSelectionName() (string, bool)
	GetSelection() (string, *memguard.SecretBytes, bool)
	Destroy()
}

// secretProvider serves the properties of one secret version in the
// requested order. Exhausted after the last property.
type secretProvider struct {
	items []providedItem
	pos   int
}

type providedItem struct {
	name  string
	value *memguard.SecretBytes
}

// NewSecretProvider builds a provider over a decrypted secret version
// and an ordered property selection. Properties missing from the
// version are skipped. A totpUrl property yields the current token, not
// the seed.
func NewSecretProvider(version *secrets.SecretVersion, properties []string) SelectionProvider {
	p := &secretProvider{}
	for _, name := range properties {
		value, ok := version.Properties[name]
		if !ok {
			continue
		}
		p.items = append(p.items, providedItem{
			name:  name,
			value: memguard.FromBytes([]byte(value)),
		})
	}
	return p
}

func (p *secretProvider) CurrentSelectionName() (string, bool) {
	if p.pos >= len(p.items) {
		return "", false
	}
	return p.items[p.pos].name, true
}

func (p *secretProvider) GetSelection() (string, *memguard.SecretBytes, bool) {
	if p.pos >= len(p.items) {
		return "", nil, false
	}
	item := p.items[p.pos]
	p.pos++

	if item.name == secrets.PropertyTOTPURL {
		token, _, err := otp.GenerateURL(string(item.value.Borrow()), time.Now())
		if err != nil {
			// An unparsable seed falls back to the raw value so the
			// user still gets something pasteable.
			return item.name, item.value.Clone(), true
		}
		return item.name, memguard.FromBytes([]byte(token)), true
	}

	return item.name, item.value.Clone(), true
}

func (p *secretProvider) Destroy() {
	for _, item := range p.items {
		item.value.Close()
	}
	p.items = nil
	p.pos = 0
}
