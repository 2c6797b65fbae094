package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/maisiliym/trustless/internal/blockstore"
	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/secrets"
	"github.com/maisiliym/trustless/internal/service"
	"github.com/maisiliym/trustless/internal/wizard"
)

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(data), nil
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run setup",
		Long:  "Walks through configuring a secrets store and creating its initial identity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(syscall.Stdin)) {
				return fmt.Errorf("setup needs a terminal")
			}

			path, err := configPath()
			if err != nil {
				return err
			}
			svc, err := service.New(path, newLogger())
			if err != nil {
				return err
			}
			defer svc.Close()

			_, err = wizard.New(svc).Run()
			return err
		},
	}
}

func initCmd() *cobra.Command {
	var (
		storeDir     string
		autolockSecs uint64
	)

	cmd := &cobra.Command{
		Use:   "init [store-name]",
		Short: "Configure a store non-interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) > 0 {
				name = args[0]
			}

			if storeDir == "" {
				dir, err := config.DefaultStoreDir(name)
				if err != nil {
					return err
				}
				storeDir = dir
			}
			if err := os.MkdirAll(storeDir, 0700); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}

			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			err = b.SetStoreConfig(ctx, name, config.StoreConfig{
				StoreURL:            blockstore.URL(storeDir),
				AutolockTimeoutSecs: autolockSecs,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Store %q configured at %s\n", name, storeDir)
			fmt.Println("Add an identity with 'trustless add-identity'.")
			return nil
		},
	}

	cmd.Flags().StringVar(&storeDir, "dir", "", "Store directory (defaults to ~/.trustless/<name>)")
	cmd.Flags().Uint64Var(&autolockSecs, "autolock-timeout", config.DefaultAutolockTimeoutSecs, "Auto-lock timeout in seconds")

	return cmd
}

func storesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List configured stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			stores, err := b.Stores(ctx)
			if err != nil {
				return err
			}
			defaultStore, _ := b.DefaultStore(ctx)

			names := make([]string, 0, len(stores))
			for name := range stores {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				marker := " "
				if name == defaultStore {
					marker = "*"
				}
				fmt.Printf("%s %-20s %s\n", marker, name, stores[name].StoreURL)
			}
			return nil
		},
	}
}

func defaultStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default-store <name>",
		Short: "Set the default store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.SetDefaultStore(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Default store is now %s\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the lock state of a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := resolveStore(ctx, b)
			if err != nil {
				return err
			}
			status, err := b.StoreStatus(ctx, store)
			if err != nil {
				return err
			}

			if status.Locked {
				fmt.Printf("%s: locked\n", store)
				return nil
			}
			fmt.Printf("%s: unlocked by %s (%s)\n", store, status.UnlockedBy.Name, status.UnlockedBy.ID)
			if status.AutolockAt != nil {
				fmt.Printf("auto-locks %s\n", humanize.Time(*status.AutolockAt))
			}
			return nil
		},
	}
}

func unlockCmd() *cobra.Command {
	var identityID string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := resolveStore(ctx, b)
			if err != nil {
				return err
			}

			if identityID == "" {
				identities, err := b.Identities(ctx, store)
				if err != nil {
					return err
				}
				if len(identities) != 1 {
					return fmt.Errorf("store has %d identities; pass --identity", len(identities))
				}
				identityID = identities[0].ID
			}

			passphrase, err := promptPassphrase(fmt.Sprintf("Passphrase for %s", identityID))
			if err != nil {
				return err
			}
			if err := b.Unlock(ctx, store, identityID, passphrase); err != nil {
				return err
			}
			fmt.Printf("%s unlocked\n", store)
			return nil
		},
	}

	cmd.Flags().StringVarP(&identityID, "identity", "i", "", "Identity to unlock with")
	return cmd
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := resolveStore(ctx, b)
			if err != nil {
				return err
			}
			if err := b.Lock(ctx, store); err != nil {
				return err
			}
			fmt.Printf("%s locked\n", store)
			return nil
		},
	}
}

func identitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "List the identities of a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := resolveStore(ctx, b)
			if err != nil {
				return err
			}
			identities, err := b.Identities(ctx, store)
			if err != nil {
				return err
			}
			for _, identity := range identities {
				fmt.Printf("%s  %s <%s>\n", identity.ID, identity.Name, identity.Email)
			}
			return nil
		},
	}
}

func addIdentityCmd() *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "add-identity",
		Short: "Add an identity to a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" {
				return fmt.Errorf("--name and --email are required")
			}

			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := resolveStore(ctx, b)
			if err != nil {
				return err
			}

			passphrase, err := promptPassphrase("Passphrase")
			if err != nil {
				return err
			}
			confirm, err := promptPassphrase("Repeat passphrase")
			if err != nil {
				return err
			}
			if passphrase != confirm {
				return fmt.Errorf("passphrases do not match")
			}

			identity := secrets.Identity{ID: secrets.GenerateID(40), Name: name, Email: email}
			if err := b.AddIdentity(ctx, store, identity, passphrase); err != nil {
				return err
			}
			fmt.Printf("Identity %s added to %s\n", identity.ID, store)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Identity display name")
	cmd.Flags().StringVar(&email, "email", "", "Identity email")
	return cmd
}
