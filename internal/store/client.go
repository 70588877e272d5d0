package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStoreUnavailable means the backing gateway could not be reached
	// within the configured timeout. Fatal to content placement.
	ErrStoreUnavailable = errors.New("content store unavailable")

	// ErrNotFound means the gateway has no content for the requested CID.
	ErrNotFound = errors.New("content not found")
)

// Client talks to a content store HTTP gateway: POST /add for placement,
// GET <pathPrefix>/<cid> for retrieval, and pin/add + pin/rm retention hints.
type Client struct {
	baseURL    string
	pathPrefix string
	http       *http.Client
	log        *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a gateway client. baseURL is the gateway root
// (e.g. "http://127.0.0.1:5001"); pathPrefix is the raw-content path
// (e.g. "/ipfs").
func NewClient(baseURL, pathPrefix string, logger *logrus.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pathPrefix: "/" + strings.Trim(pathPrefix, "/"),
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        logger.WithField("component", "store"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type addResponse struct {
	Hash string `json:"Hash"`
	Name string `json:"Name"`
	Size string `json:"Size"`
}

// Store uploads the payload and returns its content identifier. The
// optional progress callback receives uploaded byte counts as the body
// is consumed.
func (c *Client) Store(ctx context.Context, r io.Reader, name string, progress func(sent int64)) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	src := io.Reader(r)
	if progress != nil {
		src = &countingReader{r: r, report: progress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: gateway returned %s", ErrStoreUnavailable, resp.Status)
	}

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("%w: malformed add response: %v", ErrStoreUnavailable, err)
	}
	if _, err := cid.Decode(added.Hash); err != nil {
		return "", fmt.Errorf("%w: gateway returned invalid CID %q", ErrStoreUnavailable, added.Hash)
	}

	c.log.WithFields(logrus.Fields{"cid": added.Hash, "name": name}).Debug("content stored")
	return added.Hash, nil
}

// Fetch downloads content by identifier. The caller owns the returned
// reader.
func (c *Client) Fetch(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if _, err := cid.Decode(contentID); err != nil {
		return nil, fmt.Errorf("%w: invalid CID %q", ErrNotFound, contentID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ShareURL(contentID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: gateway returned %s for %s", ErrNotFound, resp.Status, contentID)
	}

	return resp.Body, nil
}

// Pin asks the store to retain the content. Best effort: failure is
// logged, never surfaced, because pinning is an optimization.
func (c *Client) Pin(ctx context.Context, contentID string) bool {
	return c.pinOp(ctx, "add", contentID)
}

// Unpin releases a retention hint. Best effort like Pin.
func (c *Client) Unpin(ctx context.Context, contentID string) bool {
	return c.pinOp(ctx, "rm", contentID)
}

func (c *Client) pinOp(ctx context.Context, op, contentID string) bool {
	u := fmt.Sprintf("%s/pin/%s?arg=%s", c.baseURL, op, url.QueryEscape(contentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithFields(logrus.Fields{"cid": contentID, "op": op}).WithError(err).Warn("pin request failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithFields(logrus.Fields{"cid": contentID, "op": op, "status": resp.Status}).Warn("pin request rejected")
		return false
	}
	return true
}

// ShareURL returns the gateway-resolvable URL for a content identifier.
func (c *Client) ShareURL(contentID string) string {
	return c.baseURL + c.pathPrefix + "/" + contentID
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	r      io.Reader
	n      int64
	report func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.report(cr.n)
	}
	return n, err
}
