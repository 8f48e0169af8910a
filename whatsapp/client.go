// Package whatsapp sends WhatsApp messages through the Twilio REST API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.twilio.com"

var (
	// ErrNotConfigured signals missing Twilio credentials.
	ErrNotConfigured = errors.New("whatsapp: twilio not configured")
	// ErrInvalid signals an empty message or recipient list.
	ErrInvalid = errors.New("whatsapp: invalid request")
	// ErrInvalidPhone signals a number that cannot be turned into E.164.
	ErrInvalidPhone = errors.New("whatsapp: invalid phone number")
	// ErrProvider wraps a rejection reported by Twilio.
	ErrProvider = errors.New("whatsapp: provider error")
)

// Recorder observes message outcomes ("sent", "failed").
type Recorder interface {
	ObserveMessage(outcome string)
}

type Config struct {
	BaseURL     string
	AccountSID  string
	AuthToken   string
	From        string
	Timeout     time.Duration
	Concurrency int
}

type Client struct {
	http        *resty.Client
	accountSID  string
	from        string
	concurrency int
	recorder    Recorder
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	r := resty.New()
	r.SetBaseURL(cfg.BaseURL)
	r.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	r.SetHeader("Accept", "application/json")
	r.SetTimeout(cfg.Timeout)

	from := strings.TrimSpace(cfg.From)
	if from != "" && !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}

	return &Client{
		http:        r,
		accountSID:  cfg.AccountSID,
		from:        from,
		concurrency: cfg.Concurrency,
	}
}

func (c *Client) WithRecorder(rec Recorder) *Client {
	c.recorder = rec
	return c
}

// Enabled reports whether credentials and a sender number are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.accountSID != "" && c.from != ""
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers body to a single phone number and returns the message SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	sid, err := c.send(ctx, to, body)
	c.observe(err)
	return sid, err
}

func (c *Client) send(ctx context.Context, to, body string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: message body required", ErrInvalid)
	}
	phone, err := NormalizePhone(to)
	if err != nil {
		return "", err
	}

	var out messageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sid", c.accountSID).
		SetFormData(map[string]string{
			"From": c.from,
			"To":   "whatsapp:" + phone,
			"Body": body,
		}).
		ForceContentType("application/json").
		SetResult(&out).
		SetError(&out).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return "", fmt.Errorf("whatsapp: send: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode(), out.Message)
	}
	if out.SID == "" {
		return "", fmt.Errorf("%w: missing message sid", ErrProvider)
	}
	return out.SID, nil
}

func (c *Client) observe(err error) {
	if c.recorder == nil {
		return
	}
	if err != nil {
		c.recorder.ObserveMessage("failed")
		return
	}
	c.recorder.ObserveMessage("sent")
}

// NormalizePhone converts a local or international number to E.164.
// Ten-digit mobile numbers starting with 3 are treated as Colombian.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if international && strings.HasPrefix(raw, "00") {
		digits = strings.TrimPrefix(digits, "00")
	}

	switch {
	case digits == "":
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	case !international && len(digits) == 10 && digits[0] == '3':
		return "+57" + digits, nil
	case !international && len(digits) == 12 && strings.HasPrefix(digits, "57"):
		return "+" + digits, nil
	case international && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
}
