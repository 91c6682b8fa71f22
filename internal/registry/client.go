package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentuity/go-common/logger"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/util"
)

// Client talks to a plugin registry over its HTTP API.
type Client struct {
	baseURL string
	log     logger.Logger
	client  *http.Client
}

// NewClient creates a registry client. baseURL may omit the scheme; https is
// assumed then.
func NewClient(log logger.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultRegistry
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
		client:  http.DefaultClient,
	}
}

// PluginName is one entry of the registry's plugin listing.
type PluginName struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type pluginsAllResponse struct {
	Plugins []PluginName `json:"plugins"`
}

type pluginsFindResponse struct {
	Plugins []Variant `json:"plugins"`
	Skip    int       `json:"skip"`
}

// Plugins lists every plugin name known to the registry.
func (c *Client) Plugins(ctx context.Context) ([]PluginName, error) {
	var resp pluginsAllResponse
	if err := c.getJSON(ctx, "/plugins", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Plugins, nil
}

// Versions returns up to limit variants of the named plugin, newest first,
// filtered server-side to the current OS file format and architecture.
func (c *Client) Versions(ctx context.Context, name string, limit int) ([]Variant, error) {
	return c.find(ctx, name, "", limit)
}

// FindByUri resolves a plugin uri to its best matching variant. The first
// result returned by the registry is the newest; "latest" simply takes it.
// Zero results is a NotFound.
func (c *Client) FindByUri(ctx context.Context, uri PluginUri) (Variant, error) {
	version := uri.Version()
	if version == "latest" {
		version = ""
	}
	variants, err := c.find(ctx, uri.Name(), version, 1)
	if err != nil {
		return Variant{}, err
	}
	if len(variants) == 0 {
		return Variant{}, merr.Errorf(merr.ErrNotFound, "plugin `%s` not found in registry", uri)
	}
	return variants[0], nil
}

func (c *Client) find(ctx context.Context, name, version string, limit int) ([]Variant, error) {
	query := url.Values{}
	query.Set("file_type", string(CurrentFileType()))
	query.Set("architecture", string(CurrentArchitecture()))
	query.Set("memflow_plugin_version", strconv.Itoa(PluginVersion))
	if version != "" {
		query.Set("version", version)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp pluginsFindResponse
	if err := c.getJSON(ctx, "/plugins/"+url.PathEscape(name), query, &resp); err != nil {
		return nil, err
	}
	return resp.Plugins, nil
}

// Download streams the variant's binary into memory, rendering progress on a
// TTY. Nothing beyond transport integrity is checked here; signature
// verification happens before the bytes ever reach disk.
func (c *Client) Download(ctx context.Context, variant Variant) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+variant.Digest, nil)
	if err != nil {
		return nil, merr.Wrap(merr.ErrHTTP, err)
	}
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, merr.Errorf(merr.ErrNotFound, "plugin file %s not found", variant.Digest)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, merr.Errorf(merr.ErrHTTP, "downloading %s: %s", variant.Digest, resp.Status)
	}

	data, err := util.ReadWithProgress(resp.Body, resp.ContentLength, "downloading")
	if err != nil {
		return nil, merr.Wrap(merr.ErrHTTP, err)
	}
	return data, nil
}

// Upload signs the file and pushes it to the registry. token is sent as a
// bearer token; registries reject unauthenticated publishes.
func (c *Client) Upload(ctx context.Context, token, path string, gen *Generator) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}
	signature := gen.Sign(data)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}
	if _, err := part.Write(data); err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}
	if err := form.WriteField("signature", signature); err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}
	if err := form.Close(); err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Content-Type", form.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode > 299 {
		return c.registryError(resp)
	}
	return nil
}

// Delete removes a plugin variant from the registry by digest.
func (c *Client) Delete(ctx context.Context, token, digest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+digest, nil)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	req.Header.Set("User-Agent", util.UserAgent())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return merr.Errorf(merr.ErrNotFound, "plugin %s not found in registry", digest)
	}
	if resp.StatusCode > 299 {
		return c.registryError(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	c.log.Trace("GET %s", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return merr.Errorf(merr.ErrNotFound, "%s", u)
	}
	if resp.StatusCode != http.StatusOK {
		return c.registryError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return merr.Wrap(merr.ErrParse, err)
	}
	return nil
}

// registryError surfaces the registry's own error message when it sends one.
func (c *Client) registryError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return merr.Errorf(merr.ErrRegistry, "%s (%s)", payload.Message, resp.Status)
	}
	return merr.Errorf(merr.ErrRegistry, "registry request failed with %s", resp.Status)
}
