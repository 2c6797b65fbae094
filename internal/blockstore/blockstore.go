// Package blockstore provides the on-disk backend of a secrets store:
// an append-only content-addressed block log and a single mutable slot
// for the identity ring.
package blockstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// Scheme is the store URL scheme prefix selecting this backend.
	Scheme = "multilane+"

	ringFileName = "ring"
	blocksDir    = "blocks"
)

var (
	// ErrBlockNotFound is returned when a block id is not present.
	ErrBlockNotFound = errors.New("block not found")

	// ErrInvalidBlockID is returned for ids that are not hex digests.
	ErrInvalidBlockID = errors.New("invalid block id")

	// ErrInvalidStoreURL is returned when a store URL cannot be parsed.
	ErrInvalidStoreURL = errors.New("invalid store url")
)

// Store is a directory-backed block store. Block writes are atomic via
// write-temp-then-rename; ring writes are additionally serialized so a
// replace is all-or-nothing.
type Store struct {
	root   string
	ringMu sync.Mutex
}

// Open opens (creating if necessary) the block store a store URL points
// at. The URL has the form "multilane+file:///path/to/dir".
func Open(storeURL string) (*Store, error) {
	dir, err := ParseStoreURL(storeURL)
	if err != nil {
		return nil, err
	}
	return OpenDir(dir)
}

// OpenDir opens a block store rooted at dir.
func OpenDir(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, blocksDir), 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// ParseStoreURL extracts the directory path from a store URL.
func ParseStoreURL(storeURL string) (string, error) {
	rest, ok := strings.CutPrefix(storeURL, Scheme)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix: %s", ErrInvalidStoreURL, Scheme, storeURL)
	}
	u, err := url.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStoreURL, err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("%w: expected file url, got %s", ErrInvalidStoreURL, rest)
	}
	return filepath.FromSlash(u.Path), nil
}

// URL returns the store URL for a directory path.
func URL(dir string) string {
	return Scheme + "file://" + filepath.ToSlash(dir)
}

// StoreBlock writes data as a new block and returns its content id.
// Storing the same bytes twice is idempotent and returns the same id.
func (s *Store) StoreBlock(data []byte) (string, error) {
	id := BlockID(data)
	path := s.blockPath(id)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create shard directory: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write block %s: %w", id, err)
	}
	return id, nil
}

// GetBlock returns the bytes of a block.
func (s *Store) GetBlock(id string) ([]byte, error) {
	if !validBlockID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlockID, id)
	}
	data, err := os.ReadFile(s.blockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
		}
		return nil, fmt.Errorf("read block %s: %w", id, err)
	}
	return data, nil
}

// HasBlock reports whether a block id is present.
func (s *Store) HasBlock(id string) bool {
	if !validBlockID(id) {
		return false
	}
	_, err := os.Stat(s.blockPath(id))
	return err == nil
}

// ListBlocks returns the ids of all stored blocks.
func (s *Store) ListBlocks() ([]string, error) {
	shards, err := os.ReadDir(filepath.Join(s.root, blocksDir))
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	var ids []string
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, blocksDir, shard.Name()))
		if err != nil {
			return nil, fmt.Errorf("list shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			if validBlockID(f.Name()) && strings.HasPrefix(f.Name(), shard.Name()) {
				ids = append(ids, f.Name())
			}
		}
	}
	return ids, nil
}

// StoreRing atomically replaces the ring blob.
func (s *Store) StoreRing(data []byte) error {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	if err := writeAtomic(filepath.Join(s.root, ringFileName), data); err != nil {
		return fmt.Errorf("write ring: %w", err)
	}
	return nil
}

// GetRing returns the ring blob, or ok=false if none has been stored.
func (s *Store) GetRing() ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ringFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read ring: %w", err)
	}
	return data, true, nil
}

// BlockID returns the content id of a block payload: the hex SHA-256 of
// its bytes.
func BlockID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) blockPath(id string) string {
	return filepath.Join(s.root, blocksDir, id[:2], id)
}

func validBlockID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// writeAtomic writes data to path via a temp file and rename so readers
// never observe a partial write.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
