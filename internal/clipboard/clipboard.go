package clipboard

import (
	"log/slog"
	"sync"

	"github.com/maisiliym/trustless/internal/event"
	"github.com/maisiliym/trustless/internal/logging"
)

// sink publishes selection values to the OS clipboard. The
// implementation is chosen per platform.
type sink interface {
	write(value []byte) error
	clear() error
}

// Clipboard owns one provider session: it answers paste requests from
// the debounced provider and publishes values to the OS clipboard.
// States: open until the selection list is exhausted or Destroy is
// called; afterwards every read yields empty.
type Clipboard struct {
	mu            sync.Mutex
	provider      *Debounce
	displayTarget string
	store         string
	secretID      string
	hub           *event.Hub
	logger        *slog.Logger
	sink          sink
	providing     string
	open          bool
}

// New starts a clipboard session for the given provider. displayTarget
// names the display the values are served to; it is supplied by the
// caller, never read from the environment. Returns ErrNotAvailable when
// the platform has no clipboard.
func New(displayTarget string, provider SelectionProvider, store, secretID string, hub *event.Hub, logger *slog.Logger) (*Clipboard, error) {
	s, err := newSink(displayTarget)
	if err != nil {
		provider.Destroy()
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := &Clipboard{
		provider:      NewDebounce(provider),
		displayTarget: displayTarget,
		store:         store,
		secretID:      secretID,
		hub:           hub,
		logger:        logger.With(logging.KeyComponent, "clipboard", logging.KeyStore, store),
		sink:          s,
		open:          true,
	}

	// Publish the first value so the paste is ready immediately.
	if err := c.ProvidePaste(); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

// ProvidePaste answers one paste gesture: it reads the debounced
// selection and publishes it. When the provider is exhausted the
// session transitions to done and the clipboard is cleared.
func (c *Clipboard) ProvidePaste() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	name, value, ok := c.provider.GetSelection()
	if !ok {
		return c.finishLocked()
	}
	defer value.Close()

	if err := c.sink.write(value.Borrow()); err != nil {
		return err
	}
	c.providing = name
	c.logger.Debug("providing selection", logging.KeyProperty, name)
	c.emit(event.Event{Kind: event.KindClipboardProviding, Store: c.store, SecretID: c.secretID, Property: name})
	return nil
}

// IsOpen reports whether the session still provides values.
func (c *Clipboard) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// CurrentlyProviding returns the name of the selection currently on the
// clipboard while the session is open.
func (c *Clipboard) CurrentlyProviding() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return "", false
	}
	return c.providing, true
}

// Destroy forces the session to done and zeroizes all held values.
// Idempotent.
func (c *Clipboard) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}
	_ = c.finishLocked()
}

func (c *Clipboard) finishLocked() error {
	c.open = false
	c.provider.Destroy()
	c.providing = ""
	err := c.sink.clear()
	c.logger.Debug("clipboard session done", logging.KeySecretID, c.secretID)
	c.emit(event.Event{Kind: event.KindClipboardDone, Store: c.store, SecretID: c.secretID})
	return err
}

func (c *Clipboard) emit(ev event.Event) {
	if c.hub != nil {
		c.hub.Emit(ev)
	}
}
