package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/control"
	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/secrets"
	"github.com/maisiliym/trustless/internal/service"
)

// backend is the store surface the CLI commands run against. When a
// daemon is listening on the control socket its client is used;
// otherwise a local service is constructed in-process.
type backend interface {
	Stores(ctx context.Context) (map[string]config.StoreConfig, error)
	SetStoreConfig(ctx context.Context, name string, storeConfig config.StoreConfig) error
	DefaultStore(ctx context.Context) (string, error)
	SetDefaultStore(ctx context.Context, name string) error
	StoreStatus(ctx context.Context, store string) (*secrets.Status, error)
	Unlock(ctx context.Context, store, identityID, passphrase string) error
	Lock(ctx context.Context, store string) error
	Identities(ctx context.Context, store string) ([]secrets.Identity, error)
	AddIdentity(ctx context.Context, store string, identity secrets.Identity, passphrase string) error
	List(ctx context.Context, store string, filter secrets.ListFilter) ([]secrets.SecretEntry, error)
	Get(ctx context.Context, store, secretID string) (*secrets.Secret, error)
	Add(ctx context.Context, store string, version secrets.SecretVersion) (string, error)
	Copy(ctx context.Context, store, secretID string, properties []string, displayTarget string) error
	ClipboardStatus(ctx context.Context) (*control.ClipboardStatus, error)
	ClipboardDestroy(ctx context.Context) error
	Close()
}

// openBackend connects to a running daemon or falls back to the local
// service.
func openBackend(ctx context.Context) (backend, error) {
	socket, err := socketPath()
	if err == nil {
		client := control.NewClient(socket)
		if client.Available(ctx) {
			return &remoteBackend{client: client}, nil
		}
	}

	path, err := configPath()
	if err != nil {
		return nil, err
	}
	svc, err := service.New(path, newLogger())
	if err != nil {
		return nil, err
	}
	return &localBackend{svc: svc}, nil
}

// resolveStore picks the store to operate on: the --store flag or the
// configured default.
func resolveStore(ctx context.Context, b backend) (string, error) {
	if flagStore != "" {
		return flagStore, nil
	}
	name, err := b.DefaultStore(ctx)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("no default store configured; run 'trustless setup' or pass --store")
	}
	return name, nil
}

// remoteBackend drives a running daemon over the control socket.
type remoteBackend struct {
	client *control.Client
}

func (b *remoteBackend) Stores(ctx context.Context) (map[string]config.StoreConfig, error) {
	return b.client.Stores(ctx)
}

func (b *remoteBackend) SetStoreConfig(ctx context.Context, name string, storeConfig config.StoreConfig) error {
	return b.client.SetStoreConfig(ctx, name, storeConfig)
}

func (b *remoteBackend) DefaultStore(ctx context.Context) (string, error) {
	status, err := b.client.Status(ctx)
	if err != nil {
		return "", err
	}
	return status.DefaultStore, nil
}

func (b *remoteBackend) SetDefaultStore(ctx context.Context, name string) error {
	return b.client.SetDefaultStore(ctx, name)
}

func (b *remoteBackend) StoreStatus(ctx context.Context, store string) (*secrets.Status, error) {
	return b.client.StoreStatus(ctx, store)
}

func (b *remoteBackend) Unlock(ctx context.Context, store, identityID, passphrase string) error {
	_, err := b.client.Unlock(ctx, store, identityID, passphrase)
	return err
}

func (b *remoteBackend) Lock(ctx context.Context, store string) error {
	return b.client.Lock(ctx, store)
}

func (b *remoteBackend) Identities(ctx context.Context, store string) ([]secrets.Identity, error) {
	return b.client.Identities(ctx, store)
}

func (b *remoteBackend) AddIdentity(ctx context.Context, store string, identity secrets.Identity, passphrase string) error {
	return b.client.AddIdentity(ctx, store, identity, passphrase)
}

func (b *remoteBackend) List(ctx context.Context, store string, filter secrets.ListFilter) ([]secrets.SecretEntry, error) {
	return b.client.ListSecrets(ctx, store, filter)
}

func (b *remoteBackend) Get(ctx context.Context, store, secretID string) (*secrets.Secret, error) {
	return b.client.GetSecret(ctx, store, secretID)
}

func (b *remoteBackend) Add(ctx context.Context, store string, version secrets.SecretVersion) (string, error) {
	return b.client.AddSecret(ctx, store, version)
}

func (b *remoteBackend) Copy(ctx context.Context, store, secretID string, properties []string, displayTarget string) error {
	_, err := b.client.SecretToClipboard(ctx, control.ClipboardRequest{
		Store:         store,
		SecretID:      secretID,
		Properties:    properties,
		DisplayTarget: displayTarget,
	})
	return err
}

func (b *remoteBackend) ClipboardStatus(ctx context.Context) (*control.ClipboardStatus, error) {
	return b.client.ClipboardStatus(ctx)
}

func (b *remoteBackend) ClipboardDestroy(ctx context.Context) error {
	return b.client.ClipboardDestroy(ctx)
}

func (b *remoteBackend) Close() {}

// localBackend runs the service in-process when no daemon is up.
type localBackend struct {
	svc *service.Service
}

func (b *localBackend) Stores(ctx context.Context) (map[string]config.StoreConfig, error) {
	out := make(map[string]config.StoreConfig)
	for _, name := range b.svc.ListStores() {
		storeConfig, err := b.svc.GetStoreConfig(name)
		if err != nil {
			return nil, err
		}
		out[name] = storeConfig
	}
	return out, nil
}

func (b *localBackend) SetStoreConfig(ctx context.Context, name string, storeConfig config.StoreConfig) error {
	return b.svc.SetStoreConfig(name, storeConfig)
}

func (b *localBackend) DefaultStore(ctx context.Context) (string, error) {
	name, _ := b.svc.GetDefaultStore()
	return name, nil
}

func (b *localBackend) SetDefaultStore(ctx context.Context, name string) error {
	return b.svc.SetDefaultStore(name)
}

func (b *localBackend) StoreStatus(ctx context.Context, store string) (*secrets.Status, error) {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return nil, err
	}
	status := s.Status()
	return &status, nil
}

func (b *localBackend) Unlock(ctx context.Context, store, identityID, passphrase string) error {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return err
	}
	pw := memguard.FromBytes([]byte(passphrase))
	defer pw.Close()
	return s.Unlock(identityID, pw)
}

func (b *localBackend) Lock(ctx context.Context, store string) error {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return err
	}
	return s.Lock()
}

func (b *localBackend) Identities(ctx context.Context, store string) ([]secrets.Identity, error) {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return nil, err
	}
	return s.Identities(), nil
}

func (b *localBackend) AddIdentity(ctx context.Context, store string, identity secrets.Identity, passphrase string) error {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return err
	}
	pw := memguard.FromBytes([]byte(passphrase))
	defer pw.Close()
	return s.AddIdentity(identity, pw)
}

func (b *localBackend) List(ctx context.Context, store string, filter secrets.ListFilter) ([]secrets.SecretEntry, error) {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return nil, err
	}
	return s.List(filter)
}

func (b *localBackend) Get(ctx context.Context, store, secretID string) (*secrets.Secret, error) {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return nil, err
	}
	return s.Get(secretID)
}

func (b *localBackend) Add(ctx context.Context, store string, version secrets.SecretVersion) (string, error) {
	s, err := b.svc.OpenStore(store)
	if err != nil {
		return "", err
	}
	return s.Add(version)
}

func (b *localBackend) Copy(ctx context.Context, store, secretID string, properties []string, displayTarget string) error {
	if displayTarget == "" {
		displayTarget = os.Getenv("DISPLAY")
	}
	_, err := b.svc.SecretToClipboard(store, secretID, properties, displayTarget)
	return err
}

func (b *localBackend) ClipboardStatus(ctx context.Context) (*control.ClipboardStatus, error) {
	clip, ok := b.svc.CurrentClipboard()
	if !ok {
		return &control.ClipboardStatus{Done: true}, nil
	}
	status := &control.ClipboardStatus{Done: clip.IsDone()}
	if providing, ok := clip.CurrentlyProviding(); ok {
		status.Providing = providing
	}
	return status, nil
}

func (b *localBackend) ClipboardDestroy(ctx context.Context) error {
	if clip, ok := b.svc.CurrentClipboard(); ok {
		clip.Destroy()
	}
	return nil
}

func (b *localBackend) Close() {
	b.svc.Close()
}
