// Package session is a thin HTTP/JSON client for the game session backend.
// It exposes the five backend operations and nothing else: no retries, no
// caching.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	OpStart     = "start"
	OpStatus    = "status"
	OpTalk      = "talk"
	OpVote      = "vote"
	OpLiarGuess = "liar-guess"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Detail returns the backend's human-readable explanation for err, if any.
func Detail(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail, true
	}
	return "", false
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates the backend session. A nil keyword asks the backend to pick one.
func (c *Client) Start(ctx context.Context, sessionID string, keyword *string) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, OpStart, http.MethodPost, "/start", StartRequest{SessionID: sessionID, Keyword: keyword}, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, OpStatus, http.MethodGet, "/status/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// Talk submits the human's message, or an empty message to let the AI whose
// turn it is speak.
func (c *Client) Talk(ctx context.Context, sessionID, message string) (TalkResponse, error) {
	var out TalkResponse
	err := c.do(ctx, OpTalk, http.MethodPost, "/talk", TalkRequest{SessionID: sessionID, UserMessage: message}, &out)
	return out, err
}

func (c *Client) Vote(ctx context.Context, sessionID, accused string) (VoteResponse, error) {
	var out VoteResponse
	err := c.do(ctx, OpVote, http.MethodPost, "/vote", VoteRequest{SessionID: sessionID, UserVote: accused}, &out)
	return out, err
}

func (c *Client) LiarGuess(ctx context.Context, sessionID, guess string) (GuessResponse, error) {
	var out GuessResponse
	err := c.do(ctx, OpLiarGuess, http.MethodPost, "/liar-guess", GuessRequest{SessionID: sessionID, Guess: guess}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// decodeAPIError reads a FastAPI style {"detail": ...} body. detail is usually
// a string but validation errors send a list, which is kept as raw JSON.
func decodeAPIError(op string, resp *http.Response) error {
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
