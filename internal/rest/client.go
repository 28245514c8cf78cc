// Package rest is the typed client for the collaborator HTTP API. The
// API is the source of truth for all engine state; pushed frames only
// invalidate it. Authentication rides on the ambient session credential
// the environment installs on the HTTP client (cookie jar or transport
// middleware); this package does not mint credentials.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/pkg/models"
)

// Client talks to the collaborator REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a client. httpClient may be nil, in which case a
// client with a 15s timeout is used. Metrics may be nil.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "rest"),
		metrics: metrics,
	}
}

// Conversations lists the user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &out)
	return out, err
}

// CreateConversation starts a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, participants []string) (models.Conversation, error) {
	req := struct {
		Participants []string `json:"participants"`
	}{Participants: participants}
	var out models.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", req, &out)
	return out, err
}

// Messages lists the messages of one conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out)
	return out, err
}

// CreateMessage persists a message and returns it with its
// server-assigned id. Message identity is always assigned here, never
// client-side, so concurrent senders cannot collide.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string, msgType models.MessageType) (models.Message, error) {
	req := struct {
		Content string             `json:"content"`
		Type    models.MessageType `json:"type"`
	}{Content: content, Type: msgType}
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", req, &out)
	return out, err
}

// Friends lists the user's confirmed friends.
func (c *Client) Friends(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, http.MethodGet, "/friends", nil, &out)
	return out, err
}

// FriendRequests lists incoming and outgoing friend requests.
func (c *Client) FriendRequests(ctx context.Context) ([]models.FriendRequest, error) {
	var out []models.FriendRequest
	err := c.do(ctx, http.MethodGet, "/friends/requests", nil, &out)
	return out, err
}

// CreateFriendRequest sends a friend request. The server rejects
// duplicates to an already-pending or already-friend target; that
// surfaces as a validation-class APIError and is never retried.
func (c *Client) CreateFriendRequest(ctx context.Context, toUser string) (models.FriendRequest, error) {
	req := struct {
		ToUser string `json:"toUser"`
	}{ToUser: toUser}
	var out models.FriendRequest
	err := c.do(ctx, http.MethodPost, "/friends/requests", req, &out)
	return out, err
}

// UpdateFriendRequest moves a pending request to a terminal status.
func (c *Client) UpdateFriendRequest(ctx context.Context, id string, status models.RequestStatus) (models.FriendRequest, error) {
	req := struct {
		Status models.RequestStatus `json:"status"`
	}{Status: status}
	var out models.FriendRequest
	err := c.do(ctx, http.MethodPut, "/friends/requests/"+url.PathEscape(id), req, &out)
	return out, err
}

// SearchUsers finds users matching query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

// Avatar resolves a username to its avatar URL. A user without an
// avatar resolves to nil rather than an error, so the cache can record
// resolved-absent.
func (c *Client) Avatar(ctx context.Context, username string) (*string, error) {
	var out struct {
		Avatar *string `json:"avatar"`
	}
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username)+"/avatar", nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			// Unknown avatar is an answer, not a failure.
			return nil, nil
		}
		return nil, err
	}
	return out.Avatar, nil
}

// do issues one request. Failures come back as *APIError; the caller
// surfaces them and drops any optimistic local change.
func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("rest: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		apiErr := &APIError{Err: err}
		c.metrics.RESTError(string(apiErr.Class()))
		return apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		c.metrics.RESTError(string(apiErr.Class()))
		c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "undecodable response body", Err: err}
		c.metrics.RESTError(string(apiErr.Class()))
		return apiErr
	}
	return nil
}

// readErrorMessage pulls a human-readable message out of an error body
// shaped {"error": "..."} or {"message": "..."}.
func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(body) == 0 {
		return ""
	}
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return ""
}
