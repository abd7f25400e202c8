package digitanimal

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/validator"
)

// DefaultBaseURL is used when an integration does not override it.
const DefaultBaseURL = "https://digitanimalapp.com/api/"

const deviceInfoPath = "get_device_info.php"

//go:embed response.schema.json
var responseSchema []byte

var responseValidator = validator.MustSchemaValidator("response.schema.json", responseSchema)

// ResolveBaseURL returns baseURL, or DefaultBaseURL when it is blank.
func ResolveBaseURL(baseURL string) string {
	if strings.TrimSpace(baseURL) == "" {
		return DefaultBaseURL
	}
	return baseURL
}

// Timeouts are the per-phase limits applied to every request.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
	Pool    time.Duration
}

// DefaultTimeouts returns connect 10s, read 30s, write 15s and pool 5s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Read:    30 * time.Second,
		Write:   15 * time.Second,
		Pool:    5 * time.Second,
	}
}

// DefaultMaxConnections caps concurrent requests sharing one Client.
const DefaultMaxConnections = 100

// Client calls the DigitAnimal device info endpoint
type Client struct {
	httpClient  *http.Client
	slots       chan struct{}
	poolTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the transport built from Timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxConnections sets the number of request slots.
func WithMaxConnections(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.slots = make(chan struct{}, n)
		}
	}
}

// NewClient creates a new Client
func NewClient(timeouts Timeouts, opts ...Option) *Client {
	c := &Client{
		httpClient:  newHTTPClient(timeouts, DefaultMaxConnections),
		slots:       make(chan struct{}, DefaultMaxConnections),
		poolTimeout: timeouts.Pool,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func newHTTPClient(t Timeouts, maxConns int) *http.Client {
	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: t.Read, write: t.Write}, nil
		},
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		MaxConnsPerHost:       maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// deadlineConn refreshes the read/write deadline before every I/O call, so the
// limits bound each socket operation rather than the whole request.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

func (c *Client) acquire(ctx context.Context) (func(), error) {
	var timeout <-chan time.Time
	if c.poolTimeout > 0 {
		timer := time.NewTimer(c.poolTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case c.slots <- struct{}{}:
		return func() { <-c.slots }, nil
	case <-timeout:
		return nil, ErrPoolTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch calls get_device_info.php. Without a date range the vendor only returns the
// current device snapshot.
func (c *Client) Fetch(ctx context.Context, integrationID, baseURL string, creds Credentials, dateRange *DateRange) (*PullResponse, error) {
	log := logger.WithFields(logger.Fields{
		"integration_id": integrationID,
		"username":       creds.Username,
	})
	log.Info("Getting devices observations")

	endpoint := ResolveBaseURL(baseURL) + deviceInfoPath
	if dateRange != nil {
		endpoint += "?" + dateRange.Query().Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create device info request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password())
	req.Header.Set("Accept", "application/json")

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request device info: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read device info: %w", err)
	}

	log.Info("Got devices observations")
	if logger.DebugEnabled() {
		log.Debug("Response: %s", raw)
	}

	return ParseResponse(raw)
}

// ParseResponse validates raw against the envelope schema and decodes it.
func ParseResponse(raw []byte) (*PullResponse, error) {
	if err := responseValidator.ValidateJSON(raw); err != nil {
		return nil, &ValidationError{Err: err}
	}
	var payload PullResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return &payload, nil
}
