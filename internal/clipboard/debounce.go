package clipboard

import (
	"sync"
	"time"

	"github.com/maisiliym/trustless/internal/memguard"
)

// debounceWindow is the span within which repeated paste reads are
// treated as one paste gesture. Some requestors issue up to four reads
// per paste; time is the only signal that groups them.
const debounceWindow = 200 * time.Millisecond

type lastContext struct {
	name  string
	value *memguard.SecretBytes
	at    time.Time
	// initial marks a value first read within the debounce window of
	// provider startup; such a read is treated as a duplicate of itself
	// and does not advance.
	initial bool
}

// Debounce wraps a SelectionProvider so that reads within the debounce
// window of the previous read return the same value without advancing.
type Debounce struct {
	mu         sync.Mutex
	underlying SelectionProvider
	last       *lastContext
	startedAt  time.Time
	now        func() time.Time
}

// NewDebounce wraps provider. The debounce clock starts immediately.
func NewDebounce(provider SelectionProvider) *Debounce {
	return newDebounceWithClock(provider, time.Now)
}

func newDebounceWithClock(provider SelectionProvider, now func() time.Time) *Debounce {
	return &Debounce{
		underlying: provider,
		startedAt:  now(),
		now:        now,
	}
}

// CurrentSelectionName reports the property the underlying provider
// serves next. A read inside the debounce window still repeats the
// previously returned value.
func (d *Debounce) CurrentSelectionName() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.underlying.CurrentSelectionName()
}

// GetSelection returns the value for a paste read. A read within the
// debounce window of the previous one repeats it; otherwise the
// underlying provider advances.
func (d *Debounce) GetSelection() (string, *memguard.SecretBytes, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.last != nil {
		if d.last.initial {
			d.last.initial = false
			d.last.at = now
			return d.last.name, d.last.value.Clone(), true
		}
		if now.Sub(d.last.at) < debounceWindow {
			d.last.at = now
			return d.last.name, d.last.value.Clone(), true
		}
	}

	name, value, ok := d.underlying.GetSelection()
	if !ok {
		d.dropLast()
		return "", nil, false
	}

	d.dropLast()
	d.last = &lastContext{
		name:    name,
		value:   value,
		at:      now,
		initial: now.Sub(d.startedAt) < debounceWindow,
	}
	return name, value.Clone(), true
}

// Destroy zeroizes the held value and the underlying provider.
func (d *Debounce) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dropLast()
	d.underlying.Destroy()
}

func (d *Debounce) dropLast() {
	if d.last != nil {
		d.last.value.Close()
		d.last = nil
	}
}
