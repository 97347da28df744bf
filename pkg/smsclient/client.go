/**
 * @description
 * This package provides a client for the BulkSMS Ghana HTTP API, used to text
 * voucher serial/PIN pairs to buyers. The API is a simple GET endpoint taking
 * the API key, recipient, message and sender id as query parameters and
 * answering with a numeric status code in the body.
 *
 * @dependencies
 * - context, fmt, io, net/http, net/url, strings, time: Standard Go libraries.
 */
package smsclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the BulkSMS Ghana API.
type Client struct {
	BaseURL    string
	APIKey     string
	SenderID   string
	HTTPClient *http.Client
}

// NewClient creates a new BulkSMS Ghana client.
func NewClient(baseURL, apiKey, senderID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		SenderID: senderID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Gateway response codes, per the BulkSMS Ghana API. 1000 is the only success
// code; everything else maps to a fixed reason string.
var responseCodeMessages = map[string]string{
	"1002": "sms sending failed",
	"1003": "insufficient balance",
	"1004": "invalid api key",
	"1005": "invalid phone number",
	"1006": "invalid sender id",
}

const codeOK = "1000"

// Send delivers one SMS to the given recipient. The recipient must already be
// in international format (e.g. 233XXXXXXXXX).
func (c *Client) Send(ctx context.Context, to, message string) error {
	params := url.Values{}
	params.Set("key", c.APIKey)
	params.Set("to", to)
	params.Set("msg", message)
	params.Set("sender_id", c.SenderID)

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute sms request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read sms response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	code := strings.TrimSpace(string(bodyBytes))
	if code == codeOK {
		return nil
	}
	if msg, ok := responseCodeMessages[code]; ok {
		return fmt.Errorf("sms gateway error %s: %s", code, msg)
	}
	return fmt.Errorf("sms gateway returned unexpected response %q", code)
}
