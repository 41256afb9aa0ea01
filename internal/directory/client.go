package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"axolotl/internal/domain"
)

// Client talks to a directory Server over HTTP+JSON.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a client for the server at base. A nil httpClient uses
// http.DefaultClient.
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: httpClient}
}

// RegisterPreKeyBundle uploads bundle and the one-time prekey pool.
func (c *Client) RegisterPreKeyBundle(
	ctx context.Context,
	recipient domain.RecipientID,
	bundle domain.PreKeyBundle,
	prekeys []domain.OneTimePreKeyPublic,
) error {
	body := registerRequest{Bundle: bundle, PreKeys: prekeys}
	return c.do(ctx, http.MethodPut, devicePath(recipient, bundle.DeviceID), body, nil)
}

// FetchPreKeyBundle downloads and validates the device's bundle.
func (c *Client) FetchPreKeyBundle(
	ctx context.Context,
	recipient domain.RecipientID,
	device domain.DeviceID,
) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.do(ctx, http.MethodGet, devicePath(recipient, device), nil, &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// Devices lists the recipient's registered devices.
func (c *Client) Devices(ctx context.Context, recipient domain.RecipientID) ([]domain.DeviceID, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(recipient.String()), nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("directory %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func devicePath(r domain.RecipientID, d domain.DeviceID) string {
	return "/v1/keys/" + url.PathEscape(r.String()) + "/" + d.String()
}

// Compile-time assertion that Client implements domain.BundleDirectory.
var _ domain.BundleDirectory = (*Client)(nil)
