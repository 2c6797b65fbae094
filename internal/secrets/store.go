package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/maisiliym/trustless/internal/block"
	"github.com/maisiliym/trustless/internal/blockstore"
	"github.com/maisiliym/trustless/internal/cipher"
	"github.com/maisiliym/trustless/internal/event"
	"github.com/maisiliym/trustless/internal/logging"
	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/metrics"
)

// Unlock attempts are throttled to slow down passphrase guessing.
const (
	unlockRate  = rate.Limit(1)
	unlockBurst = 8
)

// Store is a secrets store backed by one block store. It is shared by
// reference among service clients; all mutation is serialized through
// an internal rw-lock over the lock state, the opened private key and
// the index.
type Store struct {
	name            string
	clientID        string
	autolockTimeout time.Duration
	blocks          *blockstore.Store
	hub             *event.Hub
	logger          *slog.Logger
	metrics         *metrics.Metrics
	unlockLimiter   *rate.Limiter

	mu         sync.RWMutex
	ring       []block.RingEntry
	unlockedBy *Identity
	privateKey *memguard.SecretBytes
	idx        *index

	// autolockAt is refreshed on every access while unlocked; zero when
	// locked. Kept atomic so read operations can refresh it while only
	// holding the read lock.
	autolockAt atomic.Int64
}

// Open opens the secrets store behind a store URL. The store starts in
// the locked state.
func Open(name, storeURL, clientID string, autolockTimeout time.Duration, hub *event.Hub, logger *slog.Logger) (*Store, error) {
	blocks, err := blockstore.Open(storeURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Store{
		name:            name,
		clientID:        clientID,
		autolockTimeout: autolockTimeout,
		blocks:          blocks,
		hub:             hub,
		logger:          logger.With(logging.KeyComponent, "secrets", logging.KeyStore, name),
		metrics:         metrics.Default(),
		unlockLimiter:   rate.NewLimiter(unlockRate, unlockBurst),
	}
	if err := s.loadRing(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// loadRing reads the persisted ring, if any.
func (s *Store) loadRing() error {
	data, ok, err := s.blocks.GetRing()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	entries, err := block.DecodeRing(data)
	if err != nil {
		return err
	}
	s.ring = entries
	return nil
}

// Identities projects the ring onto its identities.
func (s *Store) Identities() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Identity, 0, len(s.ring))
	for _, e := range s.ring {
		out = append(out, Identity{ID: e.ID, Name: e.Name, Email: e.Email})
	}
	return out
}

// AddIdentity generates a keypair for a new identity, seals the private
// key under the passphrase and persists the extended ring. The lock
// state is not changed.
func (s *Store) AddIdentity(identity Identity, passphrase *memguard.SecretBytes) error {
	if err := identity.validate(); err != nil {
		return err
	}
	if passphrase == nil || passphrase.Len() == 0 {
		return fmt.Errorf("%w: empty passphrase", ErrInvalidPassphrase)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.ring {
		if e.ID == identity.ID {
			return fmt.Errorf("%w: %s", ErrIdentityExists, identity.ID)
		}
	}

	public, private, err := cipher.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer private.Close()

	kdfParams, err := cipher.NewKdfParams()
	if err != nil {
		return err
	}
	sealKey, err := cipher.DeriveSealKey(passphrase, kdfParams)
	if err != nil {
		return err
	}
	defer sealKey.Close()

	entry := block.RingEntry{
		ID:        identity.ID,
		Name:      identity.Name,
		Email:     identity.Email,
		PublicKey: public,
		Kdf:       kdfParams,
	}
	if _, err := io.ReadFull(rand.Reader, entry.PrivateKeyNonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	entry.SealedPrivateKey, err = cipher.SealPrivateKey(sealKey, entry.PrivateKeyNonce[:], private)
	if err != nil {
		return err
	}

	ring := append(append([]block.RingEntry(nil), s.ring...), entry)
	data, err := block.EncodeRing(ring)
	if err != nil {
		return err
	}
	if err := s.blocks.StoreRing(data); err != nil {
		return err
	}
	s.ring = ring

	s.logger.Info("identity added", logging.KeyIdentityID, identity.ID)
	return nil
}

// Unlock opens an identity's private key into secret memory and
// rebuilds the index. Valid only in the locked state. Any failure
// leaves the store locked with all intermediate key material zeroized.
func (s *Store) Unlock(identityID string, passphrase *memguard.SecretBytes) error {
	if !s.unlockLimiter.Allow() {
		return ErrTooManyAttempts
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.privateKey != nil {
		return ErrAlreadyUnlocked
	}

	var entry *block.RingEntry
	for i := range s.ring {
		if s.ring[i].ID == identityID {
			entry = &s.ring[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, identityID)
	}

	sealKey, err := cipher.DeriveSealKey(passphrase, entry.Kdf)
	if err != nil {
		return err
	}
	defer sealKey.Close()

	private, err := cipher.OpenPrivateKey(sealKey, entry.PrivateKeyNonce[:], entry.SealedPrivateKey)
	if err != nil {
		s.metrics.UnlockFailures.Inc()
		if errors.Is(err, cipher.ErrDecryptionFailed) || errors.Is(err, cipher.ErrDataTooShort) {
			return ErrInvalidPassphrase
		}
		return err
	}

	idx, err := s.rebuildIndex(identityID, private)
	if err != nil {
		private.Close()
		return err
	}

	s.privateKey = private
	s.unlockedBy = &Identity{ID: entry.ID, Name: entry.Name, Email: entry.Email}
	s.idx = idx
	s.touch()

	s.metrics.Unlocks.Inc()
	s.metrics.StoresUnlocked.Inc()
	s.logger.Info("store unlocked", logging.KeyIdentityID, identityID)
	s.emit(event.Event{Kind: event.KindStoreUnlocked, Store: s.name, Identity: identityID})

	return nil
}

// rebuildIndex scans the block log and decrypts every block readable by
// the unlocking identity. Blocks that cannot be read (foreign
// recipients, corrupt data) are skipped: a single damaged block must
// not brick the store.
func (s *Store) rebuildIndex(identityID string, private *memguard.SecretBytes) (*index, error) {
	ids, err := s.blocks.ListBlocks()
	if err != nil {
		return nil, err
	}

	idx := newIndex()
	for _, id := range ids {
		data, err := s.blocks.GetBlock(id)
		if err != nil {
			s.logger.Warn("skipping unreadable block", logging.KeyBlockID, id, logging.KeyError, err)
			continue
		}
		blk, err := block.Decode(data)
		if err != nil {
			s.logger.Warn("skipping malformed block", logging.KeyBlockID, id, logging.KeyError, err)
			continue
		}
		plaintext, err := cipher.Decrypt(identityID, private, &blk.Header, blk.Ciphertext)
		if err != nil {
			s.logger.Warn("skipping undecryptable block", logging.KeyBlockID, id, logging.KeyError, err)
			continue
		}
		version, err := decodeVersion(plaintext)
		plaintext.Close()
		if err != nil {
			s.logger.Warn("skipping invalid version", logging.KeyBlockID, id, logging.KeyError, err)
			continue
		}
		idx.addVersion(version, id)
	}

	s.metrics.IndexRebuilds.Inc()
	s.logger.Debug("index rebuilt", logging.KeyCount, len(ids))
	return idx, nil
}

// Lock zeroizes the held private key and drops the index. Idempotent.
func (s *Store) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked()
}

// lockLocked performs Lock with s.mu already held.
func (s *Store) lockLocked() error {
	if s.privateKey == nil {
		return nil
	}

	identityID := s.unlockedBy.ID
	s.privateKey.Close()
	s.privateKey = nil
	s.unlockedBy = nil
	s.idx = nil
	s.autolockAt.Store(0)

	s.metrics.Locks.Inc()
	s.metrics.StoresUnlocked.Dec()
	s.logger.Info("store locked", logging.KeyIdentityID, identityID)
	s.emit(event.Event{Kind: event.KindStoreLocked, Store: s.name, Identity: identityID})

	return nil
}

// Status projects the current lock state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return Status{Locked: true}
	}

	identity := *s.unlockedBy
	at := time.Unix(0, s.autolockAt.Load())
	return Status{Locked: false, UnlockedBy: &identity, AutolockAt: &at}
}

// Add encrypts a secret version to all ring identities and appends it
// to the block log.
func (s *Store) Add(version SecretVersion) (string, error) {
	plaintext, err := encodeVersion(&version)
	if err != nil {
		return "", err
	}
	defer plaintext.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.privateKey == nil {
		return "", ErrLocked
	}

	recipients := make([]cipher.RecipientKey, 0, len(s.ring))
	for _, e := range s.ring {
		recipients = append(recipients, cipher.RecipientKey{ID: e.ID, PublicKey: e.PublicKey})
	}

	header, ciphertext, err := cipher.Encrypt(recipients, plaintext)
	if err != nil {
		return "", err
	}
	data, err := (&block.Block{Header: *header, Ciphertext: ciphertext}).Encode()
	if err != nil {
		return "", err
	}
	blockID, err := s.blocks.StoreBlock(data)
	if err != nil {
		return "", err
	}

	s.idx.addVersion(&version, blockID)
	s.touch()

	s.metrics.SecretsAdded.Inc()
	s.metrics.BlocksWritten.Inc()
	s.logger.Info("secret version added",
		logging.KeySecretID, version.SecretID, logging.KeyBlockID, blockID)
	s.emit(event.Event{
		Kind:     event.KindSecretVersionAdded,
		Store:    s.name,
		Identity: s.unlockedBy.ID,
		SecretID: version.SecretID,
		BlockID:  blockID,
	})

	return blockID, nil
}

// Get assembles the derived view of a secret: its current version plus
// the full version history.
func (s *Store) Get(secretID string) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return nil, ErrLocked
	}

	current, ok := s.idx.current(secretID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, secretID)
	}
	version, err := s.readVersion(current.blockID)
	if err != nil {
		return nil, err
	}
	s.touch()

	s.metrics.SecretsRead.Inc()
	s.emit(event.Event{
		Kind:     event.KindSecretOpened,
		Store:    s.name,
		Identity: s.unlockedBy.ID,
		SecretID: secretID,
		BlockID:  current.blockID,
	})

	return &Secret{
		ID:             secretID,
		Current:        version,
		CurrentBlockID: current.blockID,
		Versions:       s.idx.refs(secretID),
	}, nil
}

// GetVersion fetches and decrypts one stored version by block id.
func (s *Store) GetVersion(blockID string) (*SecretVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return nil, ErrLocked
	}
	version, err := s.readVersion(blockID)
	if err != nil {
		return nil, err
	}
	s.touch()
	return version, nil
}

// readVersion fetches, decrypts and parses one block. Callers hold at
// least the read lock.
func (s *Store) readVersion(blockID string) (*SecretVersion, error) {
	data, err := s.blocks.GetBlock(blockID)
	if err != nil {
		return nil, err
	}
	blk, err := block.Decode(data)
	if err != nil {
		return nil, err
	}
	plaintext, err := cipher.Decrypt(s.unlockedBy.ID, s.privateKey, &blk.Header, blk.Ciphertext)
	if err != nil {
		return nil, err
	}
	defer plaintext.Close()

	return decodeVersion(plaintext)
}

// List scans the index and applies the filter. No decryption happens.
func (s *Store) List(filter ListFilter) ([]SecretEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return nil, ErrLocked
	}
	entries := s.idx.list(filter)
	s.touch()
	return entries, nil
}

// touch pushes the autolock deadline out by the configured timeout.
func (s *Store) touch() {
	s.autolockAt.Store(time.Now().Add(s.autolockTimeout).UnixNano())
}

func (s *Store) emit(ev event.Event) {
	if s.hub != nil {
		s.hub.Emit(ev)
	}
}
