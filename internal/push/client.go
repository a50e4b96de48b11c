package push

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	hostProduction = "https://api.push.apple.com"
	hostSandbox    = "https://api.sandbox.push.apple.com"

	defaultTimeout = 30 * time.Second
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeDelivered: 200, the gateway accepted the notification.
	OutcomeDelivered Outcome = iota
	// OutcomePermanent: the token is gone for good; deactivate, never retry.
	OutcomePermanent
	// OutcomeRejected: our payload or auth is wrong; log loudly, no retry.
	OutcomeRejected
	// OutcomeRetriable: transient (429/5xx/network); hand to the retry queue.
	OutcomeRetriable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomePermanent:
		return "permanent"
	case OutcomeRejected:
		return "rejected"
	}
	return "retriable"
}

// Result is the parsed gateway response for one attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Reason     string
}

type Config struct {
	KeyFile        string        `mapstructure:"key_file"`
	KeyID          string        `mapstructure:"key_id"`
	TeamID         string        `mapstructure:"team_id"`
	Topic          string        `mapstructure:"topic"`
	SandboxDefault bool          `mapstructure:"sandbox_default"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Client delivers one payload to one device endpoint over the signed
// HTTP/2 channel.
type Client struct {
	httpc   *http.Client
	tokens  *TokenSource
	topic   string
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger

	hostProd string
	hostDev  string
}

// New fails fast on missing or unreadable credentials: a batch must not
// start without a signing identity.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("push credentials: key_file is required")
	}
	pem, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	tokens, err := NewTokenSource(pem, cfg.KeyID, cfg.TeamID)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpc := &http.Client{
		Timeout: timeout,
		Transport: &http2.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}

	return NewWithClient(httpc, tokens, cfg.Topic, log), nil
}

// NewWithClient wires an explicit HTTP client; tests point it at httptest.
func NewWithClient(httpc *http.Client, tokens *TokenSource, topic string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.L()
	}
	return &Client{
		httpc:  httpc,
		tokens: tokens,
		topic:  topic,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "push-gateway",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				ratio := float64(c.TotalFailures) / float64(c.Requests)
				return c.Requests >= 5 && ratio >= 0.6
			},
		}),
		log:      log.With(zap.String("component", "push.client")),
		hostProd: hostProduction,
		hostDev:  hostSandbox,
	}
}

// WithHosts overrides the gateway hosts (tests, staging gateways).
func (c *Client) WithHosts(prod, dev string) *Client {
	cp := *c
	cp.hostProd = prod
	cp.hostDev = dev
	return &cp
}

// Push sends one payload to one device token. Sandbox vs production is a
// per-device decision, never global. A non-nil error means the attempt did
// not reach a classifiable response (network failure): retriable.
func (c *Client) Push(ctx context.Context, token string, sandbox bool, body []byte) (Result, error) {
	bearer, err := c.tokens.Bearer()
	if err != nil {
		return Result{Outcome: OutcomeRejected, Reason: "signing"}, err
	}

	host := c.hostProd
	if sandbox {
		host = c.hostDev
	}
	url := host + "/3/device/" + token

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("authorization", "bearer "+bearer)
		req.Header.Set("apns-topic", c.topic)
		req.Header.Set("apns-priority", "10")
		req.Header.Set("apns-expiration", strconv.FormatInt(time.Now().Add(24*time.Hour).Unix(), 10))
		req.Header.Set("content-type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		reason := parseReason(resp.Body)
		return Result{
			Outcome:    Classify(resp.StatusCode, reason),
			StatusCode: resp.StatusCode,
			Reason:     reason,
		}, nil
	})
	if err != nil {
		// Breaker-open and network errors both route to the retry queue.
		c.log.Warn("push attempt failed",
			zap.String("token", Redact(token)),
			zap.Bool("sandbox", sandbox),
			zap.Error(err),
		)
		return Result{Outcome: OutcomeRetriable, Reason: "network"}, err
	}

	r := res.(Result)
	c.log.Debug("push attempt",
		zap.String("token", Redact(token)),
		zap.Bool("sandbox", sandbox),
		zap.Int("status", r.StatusCode),
		zap.String("reason", r.Reason),
		zap.String("outcome", r.Outcome.String()),
	)
	return r, nil
}

// Classify maps gateway status + machine reason onto the retry taxonomy.
func Classify(status int, reason string) Outcome {
	switch {
	case status == http.StatusOK:
		return OutcomeDelivered
	case status == http.StatusGone || reason == "Unregistered" || reason == "BadDeviceToken":
		return OutcomePermanent
	case status == http.StatusTooManyRequests:
		return OutcomeRetriable
	case status >= 500:
		return OutcomeRetriable
	case status >= 400:
		return OutcomeRejected
	}
	return OutcomeRetriable
}

func parseReason(r io.Reader) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Reason
}

// Redact keeps enough of a device token to correlate logs without storing
// the credential.
func Redact(token string) string {
	if len(token) <= 8 {
		return "…"
	}
	return token[:8] + "…"
}
