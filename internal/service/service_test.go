package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/maisiliym/trustless/internal/blockstore"
	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/event"
	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/secrets"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(filepath.Join(t.TempDir(), "config.yaml"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func configureStore(t *testing.T, svc *Service, name string, autolockSecs uint64) {
	t.Helper()
	err := svc.SetStoreConfig(name, config.StoreConfig{
		StoreURL:            blockstore.URL(t.TempDir()),
		AutolockTimeoutSecs: autolockSecs,
	})
	if err != nil {
		t.Fatalf("SetStoreConfig(%s) error = %v", name, err)
	}
}

func TestFirstStoreBecomesDefault(t *testing.T) {
	svc := newTestService(t)

	if _, ok := svc.GetDefaultStore(); ok {
		t.Fatal("fresh service should have no default store")
	}

	configureStore(t, svc, "first", 300)
	configureStore(t, svc, "second", 300)

	name, ok := svc.GetDefaultStore()
	if !ok || name != "first" {
		t.Errorf("default store = %q ok=%v, want first", name, ok)
	}

	if err := svc.SetDefaultStore("second"); err != nil {
		t.Fatalf("SetDefaultStore() error = %v", err)
	}
	if name, _ := svc.GetDefaultStore(); name != "second" {
		t.Errorf("default store = %q, want second", name)
	}

	if err := svc.SetDefaultStore("ghost"); err == nil {
		t.Error("SetDefaultStore() of unknown store should fail")
	}
}

func TestStoreConfigPersists(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	svc, err := New(configPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	storeURL := blockstore.URL(t.TempDir())
	if err := svc.SetStoreConfig("persisted", config.StoreConfig{StoreURL: storeURL}); err != nil {
		t.Fatalf("SetStoreConfig() error = %v", err)
	}
	svc.Close()

	reloaded, err := New(configPath, nil)
	if err != nil {
		t.Fatalf("New() on existing config error = %v", err)
	}
	defer reloaded.Close()

	storeConfig, err := reloaded.GetStoreConfig("persisted")
	if err != nil {
		t.Fatalf("GetStoreConfig() error = %v", err)
	}
	if storeConfig.StoreURL != storeURL {
		t.Errorf("StoreURL = %q, want %q", storeConfig.StoreURL, storeURL)
	}
	if storeConfig.ClientID == "" {
		t.Error("ClientID was not generated")
	}
	if storeConfig.AutolockTimeoutSecs != config.DefaultAutolockTimeoutSecs {
		t.Errorf("AutolockTimeoutSecs = %d, want default", storeConfig.AutolockTimeoutSecs)
	}
}

func TestOpenStoreSharesHandle(t *testing.T) {
	svc := newTestService(t)
	configureStore(t, svc, "shared", 300)

	store1, err := svc.OpenStore("shared")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	store2, err := svc.OpenStore("shared")
	if err != nil {
		t.Fatalf("second OpenStore() error = %v", err)
	}
	if store1 != store2 {
		t.Error("OpenStore() returned different handles for the same name")
	}

	if _, err := svc.OpenStore("unknown"); err == nil {
		t.Fatal("OpenStore() of unknown store should fail")
	} else {
		var notFound *StoreNotFoundError
		if !errors.As(err, &notFound) || notFound.Name != "unknown" {
			t.Errorf("error = %v, want StoreNotFoundError{unknown}", err)
		}
	}
}

func TestAutolockSweep(t *testing.T) {
	svc := newTestService(t)
	configureStore(t, svc, "quick", 1)

	store, err := svc.OpenStore("quick")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	pw := memguard.FromBytes([]byte("pw1"))
	if err := store.AddIdentity(secrets.Identity{ID: "alice", Name: "Alice"}, pw); err != nil {
		t.Fatalf("AddIdentity() error = %v", err)
	}
	pw2 := memguard.FromBytes([]byte("pw1"))
	if err := store.Unlock("alice", pw2); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	// A sweep before the deadline does nothing.
	svc.CheckAutolock()
	if store.Status().Locked {
		t.Fatal("sweep locked the store before its deadline")
	}

	time.Sleep(1200 * time.Millisecond)
	svc.CheckAutolock()

	if !store.Status().Locked {
		t.Error("sweep did not lock the idle store")
	}
}

func TestAutolockRefreshedByAccess(t *testing.T) {
	svc := newTestService(t)
	configureStore(t, svc, "busy", 2)

	store, err := svc.OpenStore("busy")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	pw := memguard.FromBytes([]byte("pw1"))
	if err := store.AddIdentity(secrets.Identity{ID: "alice", Name: "Alice"}, pw); err != nil {
		t.Fatalf("AddIdentity() error = %v", err)
	}
	pw2 := memguard.FromBytes([]byte("pw1"))
	if err := store.Unlock("alice", pw2); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	// Keep the store busy past the original deadline.
	for i := 0; i < 3; i++ {
		time.Sleep(900 * time.Millisecond)
		if _, err := store.List(secrets.ListFilter{}); err != nil {
			t.Fatalf("List() error = %v", err)
		}
	}

	svc.CheckAutolock()
	if store.Status().Locked {
		t.Error("active store was autolocked")
	}
}

func TestServiceEvents(t *testing.T) {
	svc := newTestService(t)
	configureStore(t, svc, "evts", 300)

	var kinds []event.Kind
	sub := svc.Subscribe(func(ev event.Event) { kinds = append(kinds, ev.Kind) })
	defer sub.Close()

	store, err := svc.OpenStore("evts")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	pw := memguard.FromBytes([]byte("pw1"))
	if err := store.AddIdentity(secrets.Identity{ID: "alice", Name: "Alice"}, pw); err != nil {
		t.Fatalf("AddIdentity() error = %v", err)
	}
	pw2 := memguard.FromBytes([]byte("pw1"))
	if err := store.Unlock("alice", pw2); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	if len(kinds) != 1 || kinds[0] != event.KindStoreUnlocked {
		t.Errorf("events = %v, want [store_unlocked]", kinds)
	}
}

func TestCloseLocksStores(t *testing.T) {
	svc, err := New(filepath.Join(t.TempDir(), "config.yaml"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	configureStore(t, svc, "closing", 300)

	store, err := svc.OpenStore("closing")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	pw := memguard.FromBytes([]byte("pw1"))
	if err := store.AddIdentity(secrets.Identity{ID: "alice", Name: "Alice"}, pw); err != nil {
		t.Fatalf("AddIdentity() error = %v", err)
	}
	pw2 := memguard.FromBytes([]byte("pw1"))
	if err := store.Unlock("alice", pw2); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	svc.Close()

	if !store.Status().Locked {
		t.Error("Close() did not lock the open store")
	}
}
