// Package api is the REST side of the chat backend: message history, the
// people directory and deletions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

const maxBody = 8 << 20

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// HistoryMessage is one entry of a history page.
type HistoryMessage struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryPage is the data member of GET /messages/{peer}.
type HistoryPage struct {
	Messages []HistoryMessage `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// Person is a directory entry of GET /people.
type Person struct {
	ID         string `json:"_id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	AvatarLink string `json:"avatarLink"`
}

// Client talks to the REST API with a bearer token.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for baseURL. A nil httpClient gets a 15s timeout.
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		http:   httpClient,
		logger: logger.Named("api"),
	}
}

// Messages fetches up to limit messages exchanged with peer. A zero before
// asks for the newest page.
func (c *Client) Messages(ctx context.Context, peer string, limit int, before time.Time) (HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	var body struct {
		Data HistoryPage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peer), q, &body); err != nil {
		return HistoryPage{}, fmt.Errorf("fetch messages: %w", err)
	}
	return body.Data, nil
}

// People lists every registered user.
func (c *Client) People(ctx context.Context) ([]Person, error) {
	var people []Person
	if err := c.do(ctx, http.MethodGet, "/people", nil, &people); err != nil {
		return nil, fmt.Errorf("fetch people: %w", err)
	}
	return people, nil
}

// DeleteMessage deletes one message by server id.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ClearConversation deletes every message exchanged with peer.
func (c *Client) ClearConversation(ctx context.Context, peer string) error {
	if err := c.do(ctx, http.MethodDelete, "/messages/clear-conversation/"+url.PathEscape(peer), nil, nil); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	body := io.LimitReader(resp.Body, maxBody)
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(body)
		msg := ""
		if gjson.ValidBytes(raw) {
			msg = gjson.GetBytes(raw, "message").String()
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, body)
		return nil
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
