// Package twilio sends emergency SMS and voice alerts through a
// Twilio-compatible messaging gateway.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpTimeout = 10 * time.Second

// Client dispatches alerts via the gateway's REST API. Each call is a
// single attempt; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

// New creates an alert channel client. from is the originating number
// in international format.
func New(baseURL, accountSID, authToken, from string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// dispatchResponse is the subset of the gateway's response we care
// about: the provider-side reference for the message or call.
type dispatchResponse struct {
	SID string `json:"sid"`
}

// SendSMS delivers a text alert and returns the provider reference.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	ref, err := c.post(ctx, "Messages.json", form)
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	return ref, nil
}

// PlaceCall initiates a voice alert that speaks the given message and
// returns the provider reference.
func (c *Client) PlaceCall(ctx context.Context, to, spokenMessage string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Twiml", fmt.Sprintf("<Response><Say>%s</Say></Response>", escapeXML(spokenMessage)))

	ref, err := c.post(ctx, "Calls.json", form)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	return ref, nil
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.baseURL, c.accountSID, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return "", fmt.Errorf("post %s: %w", resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.SID, nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
