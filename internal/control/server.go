// Package control provides the Unix socket control interface of the
// trustless daemon: a small HTTP+JSON API over the service registry.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maisiliym/trustless/internal/blockstore"
	"github.com/maisiliym/trustless/internal/cipher"
	"github.com/maisiliym/trustless/internal/clipboard"
	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/logging"
	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/metrics"
	"github.com/maisiliym/trustless/internal/secrets"
	"github.com/maisiliym/trustless/internal/service"
)

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:   socketPath,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg      ServerConfig
	svc      *service.Service
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server over a service.
func NewServer(cfg ServerConfig, svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With(logging.KeyComponent, "control"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stores", s.handleListStores)
	mux.HandleFunc("POST /default-store/{name}", s.handleSetDefaultStore)
	mux.HandleFunc("POST /stores/{name}", s.handleSetStoreConfig)
	mux.HandleFunc("GET /stores/{name}/status", s.handleStoreStatus)
	mux.HandleFunc("POST /stores/{name}/unlock", s.handleUnlock)
	mux.HandleFunc("POST /stores/{name}/lock", s.handleLock)
	mux.HandleFunc("GET /stores/{name}/identities", s.handleIdentities)
	mux.HandleFunc("POST /stores/{name}/identities", s.handleAddIdentity)
	mux.HandleFunc("GET /stores/{name}/secrets", s.handleListSecrets)
	mux.HandleFunc("POST /stores/{name}/secrets", s.handleAddSecret)
	mux.HandleFunc("GET /stores/{name}/secrets/{id}", s.handleGetSecret)
	mux.HandleFunc("GET /stores/{name}/versions/{blockID}", s.handleGetVersion)
	mux.HandleFunc("GET /clipboard", s.handleClipboardStatus)
	mux.HandleFunc("POST /clipboard", s.handleClipboardStart)
	mux.HandleFunc("POST /clipboard/paste", s.handleClipboardPaste)
	mux.HandleFunc("DELETE /clipboard", s.handleClipboardDestroy)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	// Remove stale socket file if it exists
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	s.running.Store(true)
	s.logger.Info("control server listening", logging.KeySocket, s.cfg.SocketPath)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Stores: s.svc.ListStores()}
	if name, ok := s.svc.GetDefaultStore(); ok {
		resp.DefaultStore = name
	}
	resp.Clipboard = s.clipboardStatus()

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores := make(map[string]config.StoreConfig)
	for _, name := range s.svc.ListStores() {
		storeConfig, err := s.svc.GetStoreConfig(name)
		if err != nil {
			continue
		}
		stores[name] = storeConfig
	}
	s.writeJSON(w, r, http.StatusOK, StoresResponse{Stores: stores})
}

func (s *Server) handleSetStoreConfig(w http.ResponseWriter, r *http.Request) {
	var storeConfig config.StoreConfig
	if err := json.NewDecoder(r.Body).Decode(&storeConfig); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetStoreConfig(r.PathValue("name"), storeConfig); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, struct{}{})
}

func (s *Server) handleSetDefaultStore(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SetDefaultStore(r.PathValue("name")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, struct{}{})
}

func (s *Server) handleStoreStatus(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, store.Status())
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	pw := memguard.FromBytes([]byte(req.Passphrase))
	defer pw.Close()
	req.Passphrase = ""

	if err := store.Unlock(req.IdentityID, pw); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, store.Status())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := store.Lock(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, store.Status())
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, IdentitiesResponse{Identities: store.Identities()})
}

func (s *Server) handleAddIdentity(w http.ResponseWriter, r *http.Request) {
	var req AddIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	pw := memguard.FromBytes([]byte(req.Passphrase))
	defer pw.Close()
	req.Passphrase = ""

	if err := store.AddIdentity(req.Identity, pw); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, struct{}{})
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	query := r.URL.Query()
	filter := secrets.ListFilter{
		Name: query.Get("name"),
		Tag:  query.Get("tag"),
		Type: secrets.SecretType(query.Get("type")),
	}
	if deleted := query.Get("deleted"); deleted != "" {
		filter.Deleted, _ = strconv.ParseBool(deleted)
	}

	entries, err := store.List(filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, SecretListResponse{Entries: entries})
}

func (s *Server) handleAddSecret(w http.ResponseWriter, r *http.Request) {
	var version secrets.SecretVersion
	if err := json.NewDecoder(r.Body).Decode(&version); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	blockID, err := store.Add(version)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, AddSecretResponse{BlockID: blockID})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	secret, err := store.Get(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, secret)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	store, err := s.svc.OpenStore(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	version, err := store.GetVersion(r.PathValue("blockID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, version)
}

func (s *Server) clipboardStatus() ClipboardStatus {
	clip, ok := s.svc.CurrentClipboard()
	if !ok {
		return ClipboardStatus{Done: true}
	}
	status := ClipboardStatus{Done: clip.IsDone()}
	if providing, ok := clip.CurrentlyProviding(); ok {
		status.Providing = providing
	}
	return status
}

func (s *Server) handleClipboardStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.clipboardStatus())
}

func (s *Server) handleClipboardStart(w http.ResponseWriter, r *http.Request) {
	var req ClipboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if _, err := s.svc.SecretToClipboard(req.Store, req.SecretID, req.Properties, req.DisplayTarget); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.clipboardStatus())
}

func (s *Server) handleClipboardPaste(w http.ResponseWriter, r *http.Request) {
	clip, ok := s.svc.CurrentClipboard()
	if !ok {
		s.writeJSON(w, r, http.StatusOK, ClipboardStatus{Done: true})
		return
	}
	if err := clip.ProvidePaste(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.clipboardStatus())
}

func (s *Server) handleClipboardDestroy(w http.ResponseWriter, r *http.Request) {
	if clip, ok := s.svc.CurrentClipboard(); ok {
		clip.Destroy()
	}
	s.writeJSON(w, r, http.StatusOK, ClipboardStatus{Done: true})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", logging.KeyError, err)
	}
	// The route pattern keeps the label cardinality bounded; raw paths
	// would leak secret ids into metrics.
	metrics.Default().ControlRequests.WithLabelValues(r.Pattern, strconv.Itoa(status)).Inc()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, r, status, ErrorResponse{Error: err.Error()})
}

// writeServiceError maps domain errors onto HTTP status codes so clients
// can tell error kinds apart by APIError.StatusCode.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *service.StoreNotFoundError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, secrets.ErrSecretNotFound),
		errors.Is(err, secrets.ErrIdentityNotFound),
		errors.Is(err, blockstore.ErrBlockNotFound):
		status = http.StatusNotFound
	case errors.Is(err, secrets.ErrInvalidPassphrase):
		status = http.StatusUnauthorized
	case errors.Is(err, secrets.ErrLocked):
		status = http.StatusLocked
	case errors.Is(err, secrets.ErrAlreadyUnlocked),
		errors.Is(err, secrets.ErrIdentityExists):
		status = http.StatusConflict
	case errors.Is(err, secrets.ErrTooManyAttempts):
		status = http.StatusTooManyRequests
	case errors.Is(err, cipher.ErrNoRecipient):
		status = http.StatusForbidden
	case errors.Is(err, secrets.ErrInvalidVersion),
		errors.Is(err, blockstore.ErrInvalidBlockID):
		status = http.StatusBadRequest
	case errors.Is(err, clipboard.ErrNotAvailable):
		status = http.StatusNotImplemented
	}

	s.writeError(w, r, status, err)
}
