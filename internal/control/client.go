package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/secrets"
)

// Client is a control socket client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// Available reports whether a daemon is listening on the socket.
func (c *Client) Available(ctx context.Context) bool {
	if _, err := os.Stat(c.socketPath); err != nil {
		return false
	}
	_, err := c.Status(ctx)
	return err == nil
}

// Status retrieves the service status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stores retrieves all store configurations.
func (c *Client) Stores(ctx context.Context) (map[string]config.StoreConfig, error) {
	var resp StoresResponse
	if err := c.do(ctx, http.MethodGet, "/stores", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stores, nil
}

// SetStoreConfig inserts or updates a store configuration.
func (c *Client) SetStoreConfig(ctx context.Context, name string, storeConfig config.StoreConfig) error {
	return c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(name), storeConfig, nil)
}

// SetDefaultStore marks an already-configured store as default.
func (c *Client) SetDefaultStore(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/default-store/"+url.PathEscape(name), nil, nil)
}

// StoreStatus retrieves one store's lock state.
func (c *Client) StoreStatus(ctx context.Context, name string) (*secrets.Status, error) {
	var status secrets.Status
	if err := c.do(ctx, http.MethodGet, "/stores/"+url.PathEscape(name)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Unlock unlocks a store for an identity.
func (c *Client) Unlock(ctx context.Context, store, identityID, passphrase string) (*secrets.Status, error) {
	var status secrets.Status
	req := UnlockRequest{IdentityID: identityID, Passphrase: passphrase}
	if err := c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(store)+"/unlock", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Lock locks a store.
func (c *Client) Lock(ctx context.Context, store string) error {
	return c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(store)+"/lock", nil, nil)
}

// Identities lists the identities of a store.
func (c *Client) Identities(ctx context.Context, store string) ([]secrets.Identity, error) {
	var resp IdentitiesResponse
	if err := c.do(ctx, http.MethodGet, "/stores/"+url.PathEscape(store)+"/identities", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Identities, nil
}

// AddIdentity adds an identity to a store.
func (c *Client) AddIdentity(ctx context.Context, store string, identity secrets.Identity, passphrase string) error {
	req := AddIdentityRequest{Identity: identity, Passphrase: passphrase}
	return c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(store)+"/identities", req, nil)
}

// ListSecrets retrieves filtered index entries.
func (c *Client) ListSecrets(ctx context.Context, store string, filter secrets.ListFilter) ([]secrets.SecretEntry, error) {
	query := url.Values{}
	if filter.Name != "" {
		query.Set("name", filter.Name)
	}
	if filter.Tag != "" {
		query.Set("tag", filter.Tag)
	}
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	if filter.Deleted {
		query.Set("deleted", "true")
	}

	path := "/stores/" + url.PathEscape(store) + "/secrets"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp SecretListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// AddSecret stores a new secret version.
func (c *Client) AddSecret(ctx context.Context, store string, version secrets.SecretVersion) (string, error) {
	var resp AddSecretResponse
	if err := c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(store)+"/secrets", version, &resp); err != nil {
		return "", err
	}
	return resp.BlockID, nil
}

// GetSecret retrieves the derived view of a secret.
func (c *Client) GetSecret(ctx context.Context, store, secretID string) (*secrets.Secret, error) {
	var secret secrets.Secret
	path := "/stores/" + url.PathEscape(store) + "/secrets/" + url.PathEscape(secretID)
	if err := c.do(ctx, http.MethodGet, path, nil, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

// GetVersion retrieves one stored version by block id.
func (c *Client) GetVersion(ctx context.Context, store, blockID string) (*secrets.SecretVersion, error) {
	var version secrets.SecretVersion
	path := "/stores/" + url.PathEscape(store) + "/versions/" + url.PathEscape(blockID)
	if err := c.do(ctx, http.MethodGet, path, nil, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// ClipboardStatus retrieves the current clipboard session state.
func (c *Client) ClipboardStatus(ctx context.Context) (*ClipboardStatus, error) {
	var status ClipboardStatus
	if err := c.do(ctx, http.MethodGet, "/clipboard", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SecretToClipboard starts a clipboard session.
func (c *Client) SecretToClipboard(ctx context.Context, req ClipboardRequest) (*ClipboardStatus, error) {
	var status ClipboardStatus
	if err := c.do(ctx, http.MethodPost, "/clipboard", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ClipboardPaste advances the clipboard session by one paste gesture.
func (c *Client) ClipboardPaste(ctx context.Context) (*ClipboardStatus, error) {
	var status ClipboardStatus
	if err := c.do(ctx, http.MethodPost, "/clipboard/paste", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ClipboardDestroy ends the clipboard session.
func (c *Client) ClipboardDestroy(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/clipboard", nil, nil)
}

// APIError is a non-2xx control plane response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
