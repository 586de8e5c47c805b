package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioConfig holds the credentials and pacing of the SMS channel
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	RatePerSecond float64
	BaseURL       string // overrides the Twilio API base, for tests
}

// TwilioChannel sends caretaker messages as SMS through the Twilio REST API
type TwilioChannel struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewTwilioChannel creates an SMS channel. Sends are paced to RatePerSecond
// (Twilio's long-code limit is one message per second).
func NewTwilioChannel(cfg TwilioConfig) (*TwilioChannel, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("Twilio credentials incomplete: account sid and auth token are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("Twilio from number is required")
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}

	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &TwilioChannel{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
	}, nil
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send delivers body to address and returns the message SID
func (c *TwilioChannel) Send(ctx context.Context, address, body string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("'to' phone number is required")
	}
	if body == "" {
		return "", fmt.Errorf("message body is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	data := url.Values{}
	data.Set("To", address)
	data.Set("From", c.from)
	data.Set("Body", body)

	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.accountSID + ":" + c.authToken))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read Twilio response: %w", err)
	}

	var result twilioResponse
	_ = json.Unmarshal(respBody, &result)

	if resp.StatusCode >= 400 {
		errMsg := result.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return "", fmt.Errorf("Twilio API error %d: %s", result.Code, errMsg)
	}

	log.Printf("📱 [TWILIO] SMS to %s queued (sid %s, status %s)", maskNumber(address), result.SID, result.Status)
	return result.SID, nil
}

// maskNumber keeps the last four digits of a phone number for logs
func maskNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// LogChannel writes caretaker messages to the log instead of sending them.
// Used when Twilio credentials are not configured.
type LogChannel struct{}

// Send logs the message and reports success with an empty message id
func (LogChannel) Send(ctx context.Context, address, body string) (string, error) {
	log.Printf("📵 [SMS] Twilio not configured, message to %s not sent: %s", maskNumber(address), body)
	return "", nil
}
