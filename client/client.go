// Package client talks to the remote encryption and payment service.
//
// The service owns text encryption, charge creation, payment status and
// token delivery. Every request either decodes a 2xx JSON response or
// returns a *TransportError.
package client

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

	"github.com/hashicorp/go-hclog"
)

// MaxText is the largest text, in bytes, the service will encrypt
const MaxText = 256 << 10

// Every character comes back as a quoted "#rrggbb" string
const maxBody = 12*MaxText + 1<<20

// ErrTextTooLarge is returned for text longer than MaxText
var ErrTextTooLarge = fmt.Errorf("client: text larger than %d bytes", MaxText)

// TransportError is returned when a request fails or the service answers
// with a non-2xx status
type TransportError struct {
	Op         string
	StatusCode int // zero if no response was received
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("client: %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("client: %s: http %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request could succeed
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusPaymentRequired, e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err is a TransportError with the given status
func IsStatus(err error, code int) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == code
}

// Client is an HTTP client for the service
type Client struct {
	base   *url.URL
	http   *http.Client
	logger hclog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger
func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a Client for the service rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: hclog.NewNullLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Encrypt sends text to be encrypted. originalFileName may be empty.
func (c *Client) Encrypt(ctx context.Context, text, originalFileName string) (*EncryptResponse, error) {
	if len(text) > MaxText {
		return nil, ErrTextTooLarge
	}

	req := EncryptRequest{Text: text}
	if originalFileName != "" {
		req.OriginalFileName = &originalFileName
	}

	var resp EncryptResponse
	if err := c.do(ctx, "encrypt", http.MethodPost, "/api/encrypt", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePayment opens a charge for the token of a session
func (c *Client) CreatePayment(ctx context.Context, sessionID, fileName string) (*Charge, error) {
	var resp Charge
	if err := c.do(ctx, "create payment", http.MethodPost, "/api/create-payment", PaymentRequest{
		SessionID: sessionID,
		FileName:  fileName,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckPayment returns the current status of a charge
func (c *Client) CheckPayment(ctx context.Context, chargeID string) (*Status, error) {
	var resp Status
	if err := c.do(ctx, "check payment", http.MethodGet, "/api/check-payment/"+url.PathEscape(chargeID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadToken fetches the token colors. The service refuses until the
// charge is confirmed.
func (c *Client) DownloadToken(ctx context.Context, sessionID, chargeID string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.do(ctx, "download token", http.MethodPost, "/api/download-token", TokenRequest{
		SessionID: sessionID,
		ChargeID:  chargeID,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request", "op", op, "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
