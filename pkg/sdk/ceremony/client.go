// Package ceremony is the client SDK for the coordination API. Participant
// tools use it to inspect ceremonies, claim a queue slot and follow the
// audit log without talking to the document store directly.
package ceremony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/pkg/errors"
)

// Client talks to a coordination server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. The token is sent as
// a bearer credential on authenticated routes; it may be empty for read-only
// use.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListCeremonies returns all ceremonies, optionally filtered by state.
func (c *Client) ListCeremonies(ctx context.Context, state string) (*types.CeremonyListResponse, error) {
	path := "/api/v1/ceremonies"
	if state != "" {
		path += "?state=" + state
	}

	var res types.CeremonyListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetCeremony returns one ceremony by id.
func (c *Client) GetCeremony(ctx context.Context, id string) (*types.CeremonyResponse, error) {
	var res types.CeremonyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/ceremonies/"+id, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// JoinCeremony claims the caller's turn slot in the ceremony queue.
func (c *Client) JoinCeremony(ctx context.Context, id string) (*types.JoinCeremonyResponse, error) {
	var res types.JoinCeremonyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ceremonies/"+id+"/join", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// QueueStatus reports the caller's place in the ceremony queue.
func (c *Client) QueueStatus(ctx context.Context, id string) (*types.QueueStatusResponse, error) {
	var res types.QueueStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/ceremonies/"+id+"/queue", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListEvents returns the newest audit events for a ceremony.
func (c *Client) ListEvents(ctx context.Context, id string) (*types.EventListResponse, error) {
	var res types.EventListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/ceremonies/"+id+"/events", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AppendEvent records a participant-sent audit event on a ceremony. Index
// may be nil for events not tied to a turn.
func (c *Client) AppendEvent(ctx context.Context, ceremonyID, eventType, message string, index *int64) (*types.EventResponse, error) {
	body := &types.PostEventPayload{
		EventType: &eventType,
		Message:   message,
		Index:     index,
	}

	var res types.EventResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ceremonies/"+ceremonyID+"/events", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AcknowledgeEvent marks one audit event as seen.
func (c *Client) AcknowledgeEvent(ctx context.Context, eventID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/events/"+eventID+"/ack", nil, nil)
}

// UpsertParticipant registers the caller and refreshes their online flag.
func (c *Client) UpsertParticipant(ctx context.Context, online bool) (*types.PostParticipantResponse, error) {
	body := &types.PostParticipantPayload{Online: &online}

	var res types.PostParticipantResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/participants", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Wrapf(decodeError(resp), "request %s %s failed", method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}

// APIError is the public error shape returned by the server.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Title      string `json:"title"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Title)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
		apiErr.Title = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
