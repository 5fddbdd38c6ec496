package httpclient

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

	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/recognition"
)

const (
	userAgent = "rekognify-client/1.0"

	// maxErrorBody bounds how much of a failed response is kept for the error message.
	maxErrorBody = 512
)

// Client binds the backend's /upload and /info endpoints and writes payloads
// to presigned storage URLs.
type Client struct {
	baseURL string
	api     *http.Client
	storage *http.Client
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for backend API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.api = hc }
}

// WithStorageClient replaces the client used for storage transfers.
func WithStorageClient(hc *http.Client) Option {
	return func(c *Client) { c.storage = hc }
}

// New returns a client for the backend rooted at baseURL. API calls are bounded
// by timeout; transfers are bounded only by the caller's context since the
// payload size varies.
func New(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, logging.NewOperationError("httpclient.new", "", fmt.Errorf("invalid base url: %w", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, logging.NewOperationError("httpclient.new", "", fmt.Errorf("base url %q must be http or https", baseURL))
	}
	if parsed.Host == "" {
		return nil, logging.NewOperationError("httpclient.new", "", fmt.Errorf("base url %q has no host", baseURL))
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	c := &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		api: &http.Client{
			Transport:     transport,
			Timeout:       timeout,
			CheckRedirect: limitRedirects,
		},
		storage: &http.Client{
			Transport:     transport,
			CheckRedirect: limitRedirects,
		},
		logger: logger.Named("httpclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= 3 {
		return fmt.Errorf("too many redirects (limit: 3)")
	}
	return nil
}

// RequestCredential asks the backend for a presigned write URL.
func (c *Client) RequestCredential(ctx context.Context, req recognition.UploadRequest) (*recognition.UploadCredential, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, logging.NewOperationError("httpclient.request_credential", "", recognition.NewCredentialError(0, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return nil, logging.NewOperationError("httpclient.request_credential", "", recognition.NewCredentialError(0, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.api.Do(httpReq)
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.request_credential", "", recognition.NewCredentialError(0, err))
		c.logger.Error("credential request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		wrapped := logging.NewOperationError("httpclient.request_credential", "", recognition.NewCredentialError(resp.StatusCode, statusError(resp)))
		c.logger.Error("credential request refused", zap.Error(wrapped), zap.Int("status", resp.StatusCode))
		return nil, wrapped
	}

	var cred recognition.UploadCredential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, logging.NewOperationError("httpclient.request_credential", "", recognition.NewCredentialError(resp.StatusCode, fmt.Errorf("decode response: %w", err)))
	}
	if cred.ID == "" || cred.URL == "" {
		return nil, logging.NewOperationError("httpclient.request_credential", cred.ID, recognition.NewCredentialError(resp.StatusCode, errors.New("response is missing id or url")))
	}

	c.logger.Debug("credential issued", zap.String("upload_id", cred.ID))
	return &cred, nil
}

// Transfer writes payload to the credential's URL as a raw PUT body.
func (c *Client) Transfer(ctx context.Context, cred recognition.UploadCredential, payload []byte, contentType string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, cred.URL, bytes.NewReader(payload))
	if err != nil {
		return logging.NewOperationError("httpclient.transfer", cred.ID, recognition.NewTransferError(cred.ID, 0, err))
	}
	httpReq.ContentLength = int64(len(payload))
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", userAgent)

	started := time.Now()
	resp, err := c.storage.Do(httpReq)
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.transfer", cred.ID, recognition.NewTransferError(cred.ID, 0, err))
		c.logger.Error("storage transfer failed", zap.Error(wrapped))
		return wrapped
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wrapped := logging.NewOperationError("httpclient.transfer", cred.ID, recognition.NewTransferError(cred.ID, resp.StatusCode, statusError(resp)))
		c.logger.Error("storage rejected transfer", zap.Error(wrapped), zap.Int("status", resp.StatusCode))
		return wrapped
	}

	c.logger.Debug("storage transfer acknowledged",
		zap.String("upload_id", cred.ID),
		zap.Int("bytes", len(payload)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// Info queries the classification status of id. A 409 answer is reported as
// recognition.ErrNotReady; any other non-200 answer is a lookup error.
func (c *Client) Info(ctx context.Context, id string) (*recognition.ImageInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, recognition.NewLookupError(id, 0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return nil, recognition.NewLookupError(id, 0, err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return nil, recognition.ErrNotReady
	default:
		return nil, recognition.NewLookupError(id, resp.StatusCode, statusError(resp))
	}

	var info recognition.ImageInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, recognition.NewLookupError(id, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return &info, nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(snippet))
	if text == "" {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return fmt.Errorf("unexpected status: %s: %s", resp.Status, text)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
