package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maisiliym/trustless/internal/otp"
	"github.com/maisiliym/trustless/internal/secrets"
)

func listCmd() *cobra.Command {
	var (
		filterName string
		filterTag  string
		filterType string
		deleted    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets",
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
			entries, err := b.List(ctx, store, secrets.ListFilter{
				Name:    filterName,
				Tag:     filterTag,
				Type:    secrets.SecretType(filterType),
				Deleted: deleted,
			})
			if err != nil {
				return err
			}

			for _, entry := range entries {
				tags := ""
				if len(entry.Tags) > 0 {
					tags = " [" + strings.Join(entry.Tags, ",") + "]"
				}
				fmt.Printf("%-40s %-10s %-15s %s%s\n",
					entry.Name, entry.Type, humanize.Time(entry.Timestamp), entry.ID, tags)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filterName, "name", "", "Filter by name substring")
	cmd.Flags().StringVar(&filterTag, "tag", "", "Filter by tag")
	cmd.Flags().StringVar(&filterType, "type", "", "Filter by secret type")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "List deleted secrets instead of live ones")

	return cmd
}

func getCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <secret-id>",
		Short: "Show a secret",
		Args:  cobra.ExactArgs(1),
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
			secret, err := b.Get(ctx, store, args[0])
			if err != nil {
				return err
			}

			current := secret.Current
			fmt.Printf("Name:      %s\n", current.Name)
			fmt.Printf("Type:      %s\n", current.Type)
			fmt.Printf("Changed:   %s\n", humanize.Time(current.Timestamp))
			if len(current.Tags) > 0 {
				fmt.Printf("Tags:      %s\n", strings.Join(current.Tags, ", "))
			}
			for _, url := range current.URLs {
				fmt.Printf("URL:       %s\n", url)
			}

			for name, value := range current.Properties {
				switch {
				case name == secrets.PropertyTOTPURL:
					token, expiresAt, err := otp.GenerateURL(value, time.Now())
					if err != nil {
						fmt.Printf("%-10s <invalid totp seed>\n", name+":")
						continue
					}
					fmt.Printf("%-10s %s (expires in %ds)\n", "totp:", token, int(time.Until(expiresAt).Seconds()))
				case secrets.BlurredProperty(name) && !reveal:
					fmt.Printf("%-10s ********\n", name+":")
				default:
					fmt.Printf("%-10s %s\n", name+":", value)
				}
			}

			if len(secret.Versions) > 1 {
				fmt.Printf("\n%d versions, oldest %s\n",
					len(secret.Versions), humanize.Time(secret.Versions[len(secret.Versions)-1].Timestamp))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print password-like properties in the clear")
	return cmd
}

func addCmd() *cobra.Command {
	var (
		secretID   string
		secretType string
		tags       []string
		urls       []string
		properties []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a secret (or a new version of one)",
		Long: `Adds a new secret version. Plain properties are passed as
--property name=value; the password itself is prompted for.`,
		Args: cobra.ExactArgs(1),
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

			version := secrets.SecretVersion{
				SecretID:   secretID,
				Timestamp:  time.Now().UTC(),
				Name:       args[0],
				Type:       secrets.SecretType(secretType),
				Tags:       tags,
				URLs:       urls,
				Properties: make(map[string]string),
			}
			if version.SecretID == "" {
				version.SecretID = uuid.NewString()
			}

			for _, property := range properties {
				name, value, ok := strings.Cut(property, "=")
				if !ok {
					return fmt.Errorf("property %q is not name=value", property)
				}
				version.Properties[name] = value
			}

			if _, ok := version.Properties[secrets.PropertyPassword]; !ok {
				passphrase, err := promptPassphrase("Secret password (empty to skip)")
				if err != nil {
					return err
				}
				if passphrase != "" {
					version.Properties[secrets.PropertyPassword] = passphrase
				}
			}

			if _, err := b.Add(ctx, store, version); err != nil {
				return err
			}
			fmt.Printf("Secret %s stored\n", version.SecretID)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "id", "", "Logical secret id (defaults to a new one; pass an existing id to add a version)")
	cmd.Flags().StringVar(&secretType, "type", string(secrets.TypeLogin), "Secret type (login, note, licence, wlan, password, other)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tags (repeatable)")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "URLs (repeatable)")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "Properties as name=value (repeatable)")

	return cmd
}

func copyCmd() *cobra.Command {
	var (
		properties []string
		display    string
	)

	cmd := &cobra.Command{
		Use:   "copy <secret-id>",
		Short: "Provide a secret's properties to the clipboard",
		Args:  cobra.ExactArgs(1),
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
			if err := b.Copy(ctx, store, args[0], properties, display); err != nil {
				return err
			}
			fmt.Printf("Providing %s to the clipboard\n", strings.Join(properties, ", "))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&properties, "property", []string{secrets.PropertyUsername, secrets.PropertyPassword}, "Properties to provide in order")
	cmd.Flags().StringVar(&display, "display", "", "Display target (defaults to $DISPLAY)")

	return cmd
}

func clipboardCmd() *cobra.Command {
	var destroy bool

	cmd := &cobra.Command{
		Use:   "clipboard",
		Short: "Show or clear the current clipboard session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if destroy {
				if err := b.ClipboardDestroy(ctx); err != nil {
					return err
				}
				fmt.Println("Clipboard session destroyed")
				return nil
			}

			status, err := b.ClipboardStatus(ctx)
			if err != nil {
				return err
			}
			if status.Done {
				fmt.Println("No active clipboard session")
				return nil
			}
			fmt.Printf("Providing %s\n", status.Providing)
			return nil
		},
	}

	cmd.Flags().BoolVar(&destroy, "destroy", false, "Destroy the current session")
	return cmd
}

func generateIDCmd() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "generate-id",
		Short: "Generate a random identity id",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(secrets.GenerateID(length))
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", 40, "Id length in characters")
	return cmd
}
