// Package classify implements the HTTP client for the external
// classification and council backends.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

const defaultTimeout = 15 * time.Second

// Client talks to the classification backend over JSON HTTP. Both
// endpoints are single-attempt: a timeout is treated identically to a
// transport failure and surfaces as the matching sentinel error.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a classification client. timeout <= 0 uses the default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// classifyResponse is the wire shape of the classify endpoint.
type classifyResponse struct {
	Category string `json:"category"`
	Response string `json:"response"`
}

// councilResponse is the wire shape of the council endpoint. Votes are
// optional; absent votes leave the top-level urgency authoritative.
type councilResponse struct {
	Response   string                 `json:"response"`
	Urgency    string                 `json:"urgency"`
	Confidence float64                `json:"confidence"`
	Votes      map[string]councilVote `json:"council_votes,omitempty"`
}

type councilVote struct {
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
}

// Classify submits the conversation payload for classification.
func (c *Client) Classify(ctx context.Context, p *triage.Payload) (*triage.ClassificationResult, error) {
	var out classifyResponse
	if err := c.post(ctx, "/api/classify", p, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", triage.ErrClassifierUnavailable, err)
	}
	return &triage.ClassificationResult{
		Category: triage.ParseCategory(out.Category),
		Response: out.Response,
	}, nil
}

// Council submits the payload for secondary emergency confirmation.
func (c *Client) Council(ctx context.Context, p *triage.Payload) (*triage.CouncilResult, error) {
	var out councilResponse
	if err := c.post(ctx, "/api/council", p, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", triage.ErrCouncilUnavailable, err)
	}

	result := &triage.CouncilResult{
		Response:   out.Response,
		Urgency:    parseUrgency(out.Urgency),
		Confidence: clamp01(out.Confidence),
	}
	if len(out.Votes) > 0 {
		result.Votes = make(map[string]triage.Vote, len(out.Votes))
		for voter, v := range out.Votes {
			result.Votes[voter] = triage.Vote{
				Urgency:    parseUrgency(v.Urgency),
				Confidence: clamp01(v.Confidence),
			}
		}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseUrgency(s string) triage.Urgency {
	if triage.Urgency(s) == triage.UrgencyHigh {
		return triage.UrgencyHigh
	}
	return triage.UrgencyLow
}

// clamp01 keeps confidence values inside [0,1] at the parse boundary.
func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
