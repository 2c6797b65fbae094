// Package wizard provides the interactive first-run setup for
// trustless: it configures a store and creates its initial identity.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/maisiliym/trustless/internal/blockstore"
	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/memguard"
	"github.com/maisiliym/trustless/internal/secrets"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Result contains the wizard output.
type Result struct {
	StoreName string
	StoreDir  string
	Identity  secrets.Identity
}

// Store abstracts the store operations the wizard needs.
type Store interface {
	Identities() []secrets.Identity
	AddIdentity(identity secrets.Identity, passphrase *memguard.SecretBytes) error
}

// Service abstracts the service operations the wizard needs.
type Service interface {
	SetStoreConfig(name string, storeConfig config.StoreConfig) error
	OpenStore(name string) (*secrets.Store, error)
}

// Wizard manages the interactive setup process.
type Wizard struct {
	svc         Service
	defaultName string
}

// New creates a new setup wizard.
func New(svc Service) *Wizard {
	return &Wizard{svc: svc, defaultName: "default"}
}

// Run walks through store configuration and initial identity creation.
func (w *Wizard) Run() (*Result, error) {
	fmt.Println(titleStyle.Render("trustless setup"))
	fmt.Println("Configure a secrets store and its first identity.")
	fmt.Println()

	storeName := w.defaultName
	storeDir := ""
	autolockSecs := strconv.Itoa(config.DefaultAutolockTimeoutSecs)

	storeForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Store name").
				Value(&storeName).
				Validate(notEmpty("store name")),
			huh.NewInput().
				Title("Store directory").
				Description("Directory holding the encrypted blocks.").
				Value(&storeDir),
			huh.NewInput().
				Title("Auto-lock timeout (seconds)").
				Value(&autolockSecs).
				Validate(func(s string) error {
					n, err := strconv.ParseUint(s, 10, 64)
					if err != nil || n == 0 {
						return errors.New("must be a positive integer")
					}
					return nil
				}),
		),
	)
	if err := storeForm.Run(); err != nil {
		return nil, err
	}

	if storeDir == "" {
		dir, err := config.DefaultStoreDir(storeName)
		if err != nil {
			return nil, err
		}
		storeDir = dir
	}
	if err := os.MkdirAll(storeDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	timeout, _ := strconv.ParseUint(autolockSecs, 10, 64)

	err := w.svc.SetStoreConfig(storeName, config.StoreConfig{
		StoreURL:            blockstore.URL(storeDir),
		AutolockTimeoutSecs: timeout,
	})
	if err != nil {
		return nil, err
	}

	store, err := w.svc.OpenStore(storeName)
	if err != nil {
		return nil, err
	}

	result := &Result{StoreName: storeName, StoreDir: storeDir}
	if len(store.Identities()) == 0 {
		identity, err := w.addIdentity(store)
		if err != nil {
			return nil, err
		}
		result.Identity = identity
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("Store %q is ready at %s", storeName, storeDir)))
	return result, nil
}

// addIdentity prompts for the initial identity and creates it.
func (w *Wizard) addIdentity(store Store) (secrets.Identity, error) {
	identity := secrets.Identity{ID: secrets.GenerateID(40)}
	pass, confirm := "", ""

	identityForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Your name").
				Value(&identity.Name).
				Validate(notEmpty("name")),
			huh.NewInput().
				Title("Email").
				Value(&identity.Email).
				Validate(notEmpty("email")),
			huh.NewInput().
				Title("Passphrase").
				EchoMode(huh.EchoModePassword).
				Value(&pass).
				Validate(notEmpty("passphrase")),
			huh.NewInput().
				Title("Repeat passphrase").
				EchoMode(huh.EchoModePassword).
				Value(&confirm),
		),
	)
	if err := identityForm.Run(); err != nil {
		return secrets.Identity{}, err
	}
	if pass != confirm {
		return secrets.Identity{}, errors.New("passphrases do not match")
	}

	passphrase := memguard.FromBytes([]byte(pass))
	defer passphrase.Close()

	if err := store.AddIdentity(identity, passphrase); err != nil {
		return secrets.Identity{}, err
	}
	return identity, nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}
