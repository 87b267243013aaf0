package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiURL     = "https://api.twilio.com/2010-04-01"
	contentURL = "https://content.twilio.com/v1"
)

// Client talks to the Twilio Messages and Content APIs on behalf of one
// WhatsApp sender number.
type Client struct {
	accountSID string
	authToken  string
	from       string

	apiURL     string
	contentURL string

	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Client)

// WithBaseURLs points the client at alternative API hosts (tests, proxies).
func WithBaseURLs(api, content string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(api, "/")
		c.contentURL = strings.TrimRight(content, "/")
	}
}

// WithRateLimit caps outbound REST calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(accountSID, authToken, from string, opts ...Option) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		apiURL:     apiURL,
		contentURL: contentURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText sends a free-form text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)
	return c.sendMessage(ctx, form)
}

// SendContent sends a Content API template, substituting vars into its
// numbered or named placeholders.
func (c *Client) SendContent(ctx context.Context, to, contentSID string, vars map[string]string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("ContentSid", contentSID)
	if len(vars) > 0 {
		encoded, err := json.Marshal(vars)
		if err != nil {
			return fmt.Errorf("marshaling content variables: %w", err)
		}
		form.Set("ContentVariables", string(encoded))
	}
	return c.sendMessage(ctx, form)
}

// CreateContent registers a content definition and returns its SID.
func (c *Client) CreateContent(ctx context.Context, req ContentCreateRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling content: %w", err)
	}

	var res ContentResource
	if err := c.do(ctx, http.MethodPost, c.contentURL+"/Content", "application/json", bytes.NewReader(payload), &res); err != nil {
		return "", fmt.Errorf("creating content %q: %w", req.FriendlyName, err)
	}
	if res.SID == "" {
		return "", fmt.Errorf("creating content %q: empty sid in response", req.FriendlyName)
	}
	c.logger.Debug("content registered", zap.String("sid", res.SID), zap.String("friendly_name", req.FriendlyName))
	return res.SID, nil
}

// FetchMedia downloads an inbound media attachment. Twilio redirects media
// URLs to storage; the Authorization header is dropped on cross-host hops.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", decodeAPIError(resp)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("reading media: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) sendMessage(ctx context.Context, form url.Values) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.apiURL, c.accountSID)

	var msg MessageResource
	if err := c.do(ctx, http.MethodPost, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	c.logger.Debug("message queued",
		zap.String("sid", msg.SID),
		zap.String("status", msg.Status),
		zap.String("to", form.Get("To")),
	)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(respBody))
	}
	// Twilio echoes the status in the body; trust the transport.
	apiErr.Status = resp.StatusCode
	return apiErr
}
