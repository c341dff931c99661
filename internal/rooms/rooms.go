// Package rooms is the HTTP adapter for the external real-time room
// service. Room lifecycle, participant tokens, and media handling all
// live on the provider side; this client only drives its REST surface.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	httpTimeout = 10 * time.Second

	// emptyTimeoutSeconds is how long the provider keeps an idle room
	// alive before evicting it. The registry reconciles against this
	// eviction rather than assuming liveness.
	emptyTimeoutSeconds = 300

	// user + doctor + agent + buffer
	maxParticipants = 4
)

// Client drives a room-service REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a room service client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type createRoomRequest struct {
	Name            string `json:"name"`
	EmptyTimeout    int    `json:"empty_timeout"`
	MaxParticipants int    `json:"max_participants"`
	Metadata        string `json:"metadata,omitempty"`
}

type deleteRoomRequest struct {
	Room string `json:"room"`
}

type listRoomsRequest struct {
	Names []string `json:"names"`
}

type listRoomsResponse struct {
	Rooms []struct {
		Name string `json:"name"`
	} `json:"rooms"`
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// CreateRoom provisions a room with the service's standard limits.
func (c *Client) CreateRoom(ctx context.Context, name, metadata string) error {
	req := createRoomRequest{
		Name:            name,
		EmptyTimeout:    emptyTimeoutSeconds,
		MaxParticipants: maxParticipants,
		Metadata:        metadata,
	}
	if err := c.post(ctx, "/v1/rooms/create", req, nil); err != nil {
		return fmt.Errorf("create room %s: %w", name, err)
	}
	return nil
}

// DeleteRoom tears the room down, disconnecting any participants.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	if err := c.post(ctx, "/v1/rooms/delete", deleteRoomRequest{Room: name}, nil); err != nil {
		return fmt.Errorf("delete room %s: %w", name, err)
	}
	return nil
}

// RoomExists checks whether the provider still tracks the room. Idle
// eviction on the provider side makes this the source of truth.
func (c *Client) RoomExists(ctx context.Context, name string) (bool, error) {
	var out listRoomsResponse
	if err := c.post(ctx, "/v1/rooms/list", listRoomsRequest{Names: []string{name}}, &out); err != nil {
		return false, fmt.Errorf("list rooms: %w", err)
	}
	for _, r := range out.Rooms {
		if r.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// AccessToken mints a join token for the given identity. Credential
// issuance is entirely the provider's concern.
func (c *Client) AccessToken(ctx context.Context, room, identity, name string) (string, error) {
	var out tokenResponse
	if err := c.post(ctx, "/v1/tokens", tokenRequest{Room: room, Identity: identity, Name: name}, &out); err != nil {
		return "", fmt.Errorf("mint token for %s: %w", identity, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("mint token for %s: empty token in response", identity)
	}
	return out.Token, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("room service returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
