//go:build !unix

package clipboard

func newSink(displayTarget string) (sink, error) {
	return nil, ErrNotAvailable
}
