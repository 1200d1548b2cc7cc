package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "naps/pkg/logx"
)

const apiKeyHeader = "x-api-key"

// Config configures the catalog client.
type Config struct {
	BaseURL string
	APIKey  string

	// Timeout bounds a single HTTP exchange. 0 keeps the transport default.
	Timeout time.Duration
	// RequestsPerSec paces outgoing requests. 0 disables pacing.
	RequestsPerSec float64
}

// Client talks to the Immich API.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a client. It does not contact the server; use ValidateCredentials.
func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("catalog base url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("catalog base url: unsupported scheme %q", base.Scheme)
	}
	// Relative API paths resolve below the base path.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("catalog api key required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	log.Info("initialising catalog client", logx.String("host", base.String()))
	return &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		log:     log,
	}, nil
}

type response struct {
	status int
	method string
	url    string
	req    []byte
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, payload any, accept string) (*response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := c.base.ResolveReference(ref)

	var reqBody []byte
	if payload != nil {
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, u.String(), err)
	}

	r := &response{status: res.StatusCode, method: method, url: u.String(), req: reqBody, body: body}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode:   r.status,
			Method:       r.method,
			URL:          r.url,
			RequestBody:  r.req,
			ResponseBody: r.body,
		}
	}
	return r, nil
}

func (c *Client) requestJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	r, err := c.do(ctx, method, path, payload, "application/json")
	if err != nil {
		return nil, err
	}
	if c.log.Enabled(logx.LevelDebug) {
		c.log.Debug("catalog request",
			logx.Int("status", r.status),
			logx.String("method", r.method),
			logx.String("kind", "json"),
			logx.String("url", r.url),
			logx.String("req", FormatPayload(r.req)),
			logx.String("res", FormatPayload(r.body)),
		)
	}
	return r.body, nil
}

func (c *Client) requestBytes(ctx context.Context, method, path string) ([]byte, error) {
	r, err := c.do(ctx, method, path, nil, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	c.log.Debug("catalog request",
		logx.Int("status", r.status),
		logx.String("method", r.method),
		logx.String("kind", "bytes"),
		logx.String("url", r.url),
		logx.Int("bytes", len(r.body)),
	)
	return r.body, nil
}

// ValidateCredentials checks the API key. A rejected key yields an error
// matching ErrUnauthorized.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	c.log.Info("validating authentication token")
	b, err := c.requestJSON(ctx, http.MethodPost, "api/auth/validateToken", nil)
	if err != nil {
		return err
	}
	var p validatePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return &MalformedResponseError{Endpoint: "api/auth/validateToken", Index: -1, Err: err}
	}
	if p.AuthStatus == nil {
		return &MalformedResponseError{Endpoint: "api/auth/validateToken", Index: -1, Field: "authStatus"}
	}
	if !*p.AuthStatus {
		return ErrUnauthorized
	}
	c.log.Info("authentication successful")
	return nil
}

// Tags lists every tag known to the catalog.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	c.log.Info("looking up all tags")
	b, err := c.requestJSON(ctx, http.MethodGet, "api/tags", nil)
	if err != nil {
		return nil, err
	}
	tags, err := decodeTags("api/tags", b)
	if err != nil {
		return nil, err
	}
	c.log.Info("found tags", logx.Int("count", len(tags)))
	return tags, nil
}

type randomRequest struct {
	Size   int       `json:"size"`
	Type   AssetType `json:"type,omitempty"`
	TagIDs []string  `json:"tagIds"`
}

// RandomAssets asks for count random assets of type typ carrying tagID.
// Empty typ or tagID disable the respective filter. The catalog may return
// fewer assets than requested.
func (c *Client) RandomAssets(ctx context.Context, count int, typ AssetType, tagID string) ([]Asset, error) {
	if count <= 0 {
		count = 1
	}
	c.log.Info("requesting random assets",
		logx.Int("count", count),
		logx.String("type", string(typ)),
		logx.String("tag", tagID),
	)
	req := randomRequest{Size: count, Type: typ, TagIDs: []string{}}
	if tagID != "" {
		req.TagIDs = []string{tagID}
	}
	b, err := c.requestJSON(ctx, http.MethodPost, "api/search/random", req)
	if err != nil {
		return nil, err
	}
	assets, err := decodeAssets("api/search/random", b)
	if err != nil {
		return nil, err
	}
	if len(assets) != count {
		c.log.Warn("random asset count mismatch", logx.Int("requested", count), logx.Int("found", len(assets)))
	}
	if len(assets) == 1 {
		c.log.Info("selected random asset", logx.String("asset", assets[0].String()))
	}
	return assets, nil
}

// Download fetches the original binary of asset id.
func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	c.log.Info("downloading asset", logx.String("asset_id", id))
	return c.requestBytes(ctx, http.MethodGet, "api/assets/"+url.PathEscape(id)+"/original")
}
