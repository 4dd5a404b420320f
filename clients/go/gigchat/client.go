// Package gigchat provides a client for the gigchat messaging service.
package gigchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GeneralContext is the context id of conversations not tied to a job.
const GeneralContext = "general"

// Client is a gigchat API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new gigchat client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gigchat error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &Error{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Message represents a chat message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	ContextID  string    `json:"context_id"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
	IsRead     bool      `json:"is_read"`
}

// SentBy reports whether userID sent m.
func (m Message) SentBy(userID int64) bool {
	return m.SenderID == userID
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	ContextID  string `json:"context_id"`
	Content    string `json:"content"`
}

// SendMessage sends a message and returns it as stored.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	var msg Message
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History returns the messages between two users in a context, oldest first.
func (c *Client) History(ctx context.Context, contextID string, userA, userB int64) ([]Message, error) {
	if contextID == "" {
		contextID = GeneralContext
	}
	path := fmt.Sprintf("/api/messages/%s/%d/%d", url.PathEscape(contextID), userA, userB)

	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Conversation is one entry of a user's conversation list.
type Conversation struct {
	ConversationID string  `json:"conversation_id"`
	OtherUserID    int64   `json:"other_user_id"`
	ContextID      string  `json:"context_id"`
	LastMessage    Message `json:"last_message"`
	UnreadCount    int     `json:"unread_count"`
}

// Conversations lists a user's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context, userID int64) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/conversations/"+strconv.FormatInt(userID, 10), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// MarkReadResponse is the response from marking a conversation read.
type MarkReadResponse struct {
	Success   bool  `json:"success"`
	ReadCount int64 `json:"read_count"`
}

// MarkRead marks every message sent to userID in the conversation as read.
func (c *Client) MarkRead(ctx context.Context, userID int64, conversationID string) (*MarkReadResponse, error) {
	req := map[string]any{"user_id": userID, "conversation_id": conversationID}

	var resp MarkReadResponse
	if err := c.doRequest(ctx, http.MethodPut, "/api/messages/read", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
	Timestamp string `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StatsResponse is the response from the stats endpoint.
type StatsResponse struct {
	TotalMessages  int64  `json:"total_messages"`
	UnreadMessages int64  `json:"unread_messages"`
	Conversations  int64  `json:"conversations"`
	LastActivity   string `json:"last_activity"`
	Subscribers    int    `json:"subscribers"`
	ActiveRooms    int    `json:"active_rooms"`
}

// Stats returns service statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
