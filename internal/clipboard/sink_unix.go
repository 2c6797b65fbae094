//go:build unix

package clipboard

import (
	"os"

	atotto "github.com/atotto/clipboard"
)

type systemSink struct{}

func newSink(displayTarget string) (sink, error) {
	if atotto.Unsupported {
		return nil, ErrNotAvailable
	}
	// The paste target is addressed through the environment the helper
	// binaries inherit; the caller-supplied display string wins over
	// whatever this process was started with.
	if displayTarget != "" {
		os.Setenv("DISPLAY", displayTarget)
	}
	return systemSink{}, nil
}

func (systemSink) write(value []byte) error {
	return atotto.WriteAll(string(value))
}

func (systemSink) clear() error {
	return atotto.WriteAll("")
}
