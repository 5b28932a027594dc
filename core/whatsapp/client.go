package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/petclub/wabot/core/logger"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

// BuildHTTPClient returns an HTTP client tuned for Graph API calls.
func BuildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: defaultResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	retry := &retryTransport{
		base:       transport,
		maxRetries: defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
	}

	return &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: retry,
	}
}

// Options configure the Cloud API client.
type Options struct {
	Token        string
	BaseURL      string
	GraphVersion string
	HTTPClient   *http.Client
}

// Client sends outbound messages through the WhatsApp Cloud API.
type Client struct {
	token   string
	baseURL string
	version string
	http    *http.Client
}

// NewClient builds a Cloud API client, falling back to the tuned transport
// when no HTTP client is supplied.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = BuildHTTPClient()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	version := opts.GraphVersion
	if version == "" {
		version = "v22.0"
	}
	return &Client{
		token:   opts.Token,
		baseURL: baseURL,
		version: version,
		http:    httpClient,
	}
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type interactiveMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Interactive      *Interactive `json:"interactive"`
}

// apiError is the error envelope the Graph API returns on failure.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText delivers a plain text message from the given business phone
// number (channelID) to a recipient.
func (c *Client) SendText(ctx context.Context, channelID, recipient, text string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: text},
	}
	return c.post(ctx, channelID, recipient, "text", msg)
}

// SendInteractive delivers a button or list message.
func (c *Client) SendInteractive(ctx context.Context, channelID, recipient string, payload *Interactive) error {
	msg := interactiveMessage{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "interactive",
		Interactive:      payload,
	}
	return c.post(ctx, channelID, recipient, "interactive", msg)
}

func (c *Client) post(ctx context.Context, channelID, recipient, kind string, body any) error {
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, channelID)

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error(ctx, "wa", "send.fail",
			slog.String("kind", kind),
			slog.String("to", recipient),
			slog.String("err", c.sanitize(err.Error())),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("send %s message: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail := c.readAPIError(resp.Body)
		logger.Error(ctx, "wa", "send.fail",
			slog.String("kind", kind),
			slog.String("to", recipient),
			slog.Int("http_code", resp.StatusCode),
			slog.String("err", c.sanitize(detail)),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("send %s message: api status %d: %s", kind, resp.StatusCode, c.sanitize(detail))
	}

	logger.Debug(ctx, "wa", "send.success",
		slog.String("kind", kind),
		slog.String("to", recipient),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func (c *Client) readAPIError(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil {
		return "unreadable error body"
	}
	var envelope apiError
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("%s (type=%s code=%d)", envelope.Error.Message, envelope.Error.Type, envelope.Error.Code)
	}
	return strings.TrimSpace(string(raw))
}

// sanitize redacts the access token should an error message ever echo it.
func (c *Client) sanitize(msg string) string {
	if c.token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, c.token, "<redacted>")
}
