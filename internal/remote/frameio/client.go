// Package frameio implements remote.Store over the Frame.io v2 HTTP API.
package frameio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chmdznr/oss-asset-sync/internal/auth"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

const (
	apiPrefix     = "/v2"
	searchPerPage = 50
	clientHeader  = "x-frameio-client"
)

type Client struct {
	baseURL *url.URL
	hc      *http.Client
	tokens  auth.TokenSource
	log     logging.Logger

	maxRetries int
	backoff    time.Duration
	agent      string

	upload uploadOptions
}

type ClientOptions struct {
	Host string
	// Timeout bounds one API call. Transfers use their own clients.
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	UserAgent  string

	// ChunkWorkers and MemoryThreshold control parallel chunk uploads.
	ChunkWorkers    int
	MemoryThreshold uint64
}

func NewClient(opt ClientOptions, tokens auth.TokenSource, log logging.Logger) (*Client, error) {
	if opt.Host == "" {
		return nil, errors.New("host is required")
	}
	u, err := url.Parse(opt.Host)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return nil, errors.New("invalid host")
	}
	if log == nil {
		log = logging.Nop()
	}

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	backoff := opt.Backoff
	if backoff == 0 {
		backoff = time.Second
	}

	return &Client{
		baseURL:    u,
		hc:         &http.Client{Timeout: timeout},
		tokens:     tokens,
		log:        log,
		maxRetries: opt.MaxRetries,
		backoff:    backoff,
		agent:      opt.UserAgent,
		upload: uploadOptions{
			workers:         opt.ChunkWorkers,
			memoryThreshold: opt.MemoryThreshold,
		},
	}, nil
}

// page carries the pagination headers of a list response.
type page struct {
	number int
	total  int
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: apiPrefix + path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// doJSON performs one API call, retrying 429 responses with exponential
// backoff, and decodes the body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) (page, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return page{}, err
		}
		payload = b
	}
	target := c.endpoint(path, query)

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return page{}, fmt.Errorf("%w: %w", remote.ErrConnectivity, err)
	}

	delay := c.backoff
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, target, token, payload)
		if err != nil {
			return page{}, err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			resp.Body.Close()
			c.log.Debug(ctx, "rate limited, backing off", "url", target, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return page{}, fmt.Errorf("%w: %w", remote.ErrConnectivity, ctx.Err())
			}
			delay *= 2
			continue
		}

		defer resp.Body.Close()
		if err := checkStatus(method, target, resp); err != nil {
			return page{}, err
		}

		pg := page{
			number: headerInt(resp.Header, "page-number"),
			total:  headerInt(resp.Header, "total-pages"),
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return pg, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pg, fmt.Errorf("%w: decode %s: %v", remote.ErrSchema, path, err)
		}
		return pg, nil
	}
}

func (c *Client) send(ctx context.Context, method, target, token string, payload []byte) (*http.Response, error) {
	var buf io.Reader
	if payload != nil {
		buf = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, buf)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	if c.agent != "" {
		req.Header.Set(clientHeader, c.agent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", remote.ErrConnectivity, method, target, err)
	}
	return resp, nil
}

func checkStatus(method, target string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, target, remote.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s: %s", remote.ErrConnectivity, method, target, resp.Status)
	default:
		return &remote.StatusError{Method: method, URL: target, Code: resp.StatusCode}
	}
}

func headerInt(h http.Header, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(h.Get(key)))
	if err != nil {
		return 0
	}
	return n
}

// getAll walks every page of a GET listing.
func getAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	for n := 1; ; n++ {
		var batch []T
		var query url.Values
		if n > 1 {
			query = url.Values{"page": {strconv.Itoa(n)}}
		}
		pg, err := c.doJSON(ctx, http.MethodGet, path, query, nil, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if pg.total <= n {
			return all, nil
		}
	}
}

// searchAll walks every page of a POST search, carrying the page in the body.
func searchAll[T any](ctx context.Context, c *Client, path string, payload map[string]any) ([]T, error) {
	var all []T
	for n := 1; ; n++ {
		payload["page"] = n
		var batch []T
		pg, err := c.doJSON(ctx, http.MethodPost, path, nil, payload, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if pg.total <= n {
			return all, nil
		}
	}
}
