// Package service provides the process-level registry over secrets
// stores: shared store handles, persisted configuration, the autolock
// sweep, the single clipboard slot and the event bus.
package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maisiliym/trustless/internal/clipboard"
	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/event"
	"github.com/maisiliym/trustless/internal/logging"
	"github.com/maisiliym/trustless/internal/metrics"
	"github.com/maisiliym/trustless/internal/secrets"
)

// StoreNotFoundError is returned when a store name is not configured.
type StoreNotFoundError struct {
	Name string
}

func (e *StoreNotFoundError) Error() string {
	return fmt.Sprintf("store not found: %s", e.Name)
}

// ClipboardControl is the handle over the current clipboard session.
type ClipboardControl interface {
	IsDone() bool
	CurrentlyProviding() (string, bool)
	ProvidePaste() error
	Destroy()
}

// Service is the local trustless service. All state is guarded by
// per-concern locks; none of them is held across a store call.
type Service struct {
	configPath string
	logger     *slog.Logger
	hub        *event.Hub
	metrics    *metrics.Metrics

	configMu sync.RWMutex
	config   *config.Config

	storesMu sync.RWMutex
	stores   map[string]*secrets.Store

	clipMu sync.Mutex
	clip   *clipboard.Clipboard
}

// New creates a service backed by the configuration at configPath.
func New(configPath string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	return &Service{
		configPath: configPath,
		logger:     logger.With(logging.KeyComponent, "service"),
		hub:        event.NewHub(),
		metrics:    metrics.Default(),
		config:     cfg,
		stores:     make(map[string]*secrets.Store),
	}, nil
}

// ListStores returns the names of all configured stores.
func (s *Service) ListStores() []string {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	names := make([]string, 0, len(s.config.Stores))
	for name := range s.config.Stores {
		names = append(names, name)
	}
	return names
}

// GetStoreConfig returns the configuration of one store.
func (s *Service) GetStoreConfig(name string) (config.StoreConfig, error) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	store, ok := s.config.Stores[name]
	if !ok {
		return config.StoreConfig{}, &StoreNotFoundError{Name: name}
	}
	return store, nil
}

// SetStoreConfig inserts or updates a store configuration and flushes
// it to disk. The first store configured becomes the default.
func (s *Service) SetStoreConfig(name string, storeConfig config.StoreConfig) error {
	if storeConfig.ClientID == "" {
		storeConfig.ClientID = uuid.NewString()
	}
	if storeConfig.AutolockTimeoutSecs == 0 {
		storeConfig.AutolockTimeoutSecs = config.DefaultAutolockTimeoutSecs
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if s.config.DefaultStore == "" {
		s.config.DefaultStore = name
	}
	s.config.Stores[name] = storeConfig
	if err := s.config.Save(s.configPath); err != nil {
		return err
	}

	s.logger.Info("store configured", logging.KeyStore, name)
	return nil
}

// GetDefaultStore returns the default store name, if one is set.
func (s *Service) GetDefaultStore() (string, bool) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config.DefaultStore, s.config.DefaultStore != ""
}

// SetDefaultStore marks an already-configured store as default.
func (s *Service) SetDefaultStore(name string) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if _, ok := s.config.Stores[name]; !ok {
		return &StoreNotFoundError{Name: name}
	}
	s.config.DefaultStore = name
	return s.config.Save(s.configPath)
}

// OpenStore returns the shared handle for a store, opening it on first
// use. Concurrent callers for the same name receive the same handle.
func (s *Service) OpenStore(name string) (*secrets.Store, error) {
	s.storesMu.RLock()
	store, ok := s.stores[name]
	s.storesMu.RUnlock()
	if ok {
		return store, nil
	}

	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	if store, ok := s.stores[name]; ok {
		return store, nil
	}

	storeConfig, err := s.GetStoreConfig(name)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(storeConfig.AutolockTimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = config.DefaultAutolockTimeoutSecs * time.Second
	}

	store, err = secrets.Open(name, storeConfig.StoreURL, storeConfig.ClientID, timeout, s.hub, s.logger)
	if err != nil {
		return nil, err
	}
	s.stores[name] = store
	s.metrics.StoresOpen.Inc()

	s.logger.Info("store opened", logging.KeyStore, name)
	return store, nil
}

// SecretToClipboard opens the store, fetches the secret and starts a
// clipboard session over the selected properties. Any previous session
// is destroyed. displayTarget names the display the values are served
// to and is supplied by the caller.
func (s *Service) SecretToClipboard(storeName, secretID string, properties []string, displayTarget string) (ClipboardControl, error) {
	store, err := s.OpenStore(storeName)
	if err != nil {
		return nil, err
	}
	secret, err := store.Get(secretID)
	if err != nil {
		return nil, err
	}

	provider := clipboard.NewSecretProvider(secret.Current, properties)
	clip, err := clipboard.New(displayTarget, provider, storeName, secretID, s.hub, s.logger)
	if err != nil {
		return nil, err
	}

	s.clipMu.Lock()
	previous := s.clip
	s.clip = clip
	s.clipMu.Unlock()

	if previous != nil {
		previous.Destroy()
	}

	s.metrics.ClipboardSessionsTotal.Inc()
	s.metrics.ClipboardActive.Set(1)
	s.logger.Info("providing secret to clipboard",
		logging.KeyStore, storeName, logging.KeySecretID, secretID)

	return &clipboardHandle{clip: clip, metrics: s.metrics}, nil
}

// CurrentClipboard returns the handle of the active clipboard session.
func (s *Service) CurrentClipboard() (ClipboardControl, bool) {
	s.clipMu.Lock()
	defer s.clipMu.Unlock()

	if s.clip == nil || !s.clip.IsOpen() {
		return nil, false
	}
	return &clipboardHandle{clip: s.clip, metrics: s.metrics}, true
}

// Subscribe registers an event handler. Closing the subscription
// unregisters it.
func (s *Service) Subscribe(handler event.Handler) *event.Subscription {
	return s.hub.Subscribe(handler)
}

// CheckAutolock sweeps all open stores and locks those whose autolock
// deadline passed. Errors are logged and do not halt the sweep; a
// panicking store is force-detached from the registry.
func (s *Service) CheckAutolock() {
	s.storesMu.RLock()
	snapshot := make(map[string]*secrets.Store, len(s.stores))
	for name, store := range s.stores {
		snapshot[name] = store
	}
	s.storesMu.RUnlock()

	now := time.Now()
	for name, store := range snapshot {
		s.sweepStore(name, store, now)
	}
}

func (s *Service) sweepStore(name string, store *secrets.Store, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store panicked during autolock sweep, detaching",
				logging.KeyStore, name, logging.KeyError, fmt.Sprint(r))
			s.detachStore(name, store)
		}
	}()

	status := store.Status()
	if status.Locked || status.AutolockAt == nil || status.AutolockAt.After(now) {
		return
	}

	s.logger.Info("autolocking store", logging.KeyStore, name)
	if err := store.Lock(); err != nil {
		s.logger.Error("autolock failed", logging.KeyStore, name, logging.KeyError, err)
		return
	}
	s.metrics.AutolocksTotal.Inc()
}

// detachStore removes a misbehaving store from the registry after a
// best-effort lock.
func (s *Service) detachStore(name string, store *secrets.Store) {
	func() {
		defer func() { recover() }()
		_ = store.Lock()
	}()

	s.storesMu.Lock()
	if s.stores[name] == store {
		delete(s.stores, name)
		s.metrics.StoresOpen.Dec()
	}
	s.storesMu.Unlock()
}

// Close locks every open store and destroys the clipboard session.
func (s *Service) Close() {
	s.clipMu.Lock()
	if s.clip != nil {
		s.clip.Destroy()
		s.clip = nil
	}
	s.clipMu.Unlock()

	s.storesMu.Lock()
	stores := s.stores
	s.stores = make(map[string]*secrets.Store)
	s.storesMu.Unlock()

	for name, store := range stores {
		if err := store.Lock(); err != nil {
			s.logger.Error("locking store on shutdown", logging.KeyStore, name, logging.KeyError, err)
		}
		s.metrics.StoresOpen.Dec()
	}
}

// clipboardHandle adapts a clipboard session to the control interface.
type clipboardHandle struct {
	clip    *clipboard.Clipboard
	metrics *metrics.Metrics
}

func (h *clipboardHandle) IsDone() bool {
	return !h.clip.IsOpen()
}

func (h *clipboardHandle) CurrentlyProviding() (string, bool) {
	return h.clip.CurrentlyProviding()
}

func (h *clipboardHandle) ProvidePaste() error {
	return h.clip.ProvidePaste()
}

func (h *clipboardHandle) Destroy() {
	h.clip.Destroy()
	h.metrics.ClipboardActive.Set(0)
}
