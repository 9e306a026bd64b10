package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	streamc *http.Client
	log     *logrus.Entry
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpc.Timeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpc = h
		c.streamc = h
	}
}

func New(baseURL, token string, log *logrus.Entry, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: defaultTimeout, Transport: transport},
		// No client timeout on the stream transport: an SSE response
		// stays open for the life of the answer.
		streamc: &http.Client{Transport: transport},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateSession(ctx context.Context, title string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/sessions", createSessionRequest{Title: title}, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	path := "/sessions"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	var out []Session
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) RenameSession(ctx context.Context, id, title string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(id), renameSessionRequest{Title: title}, &out)
	return out, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &out)
	return out, err
}

func (c *Client) RateMessage(ctx context.Context, id string, rating int, feedback string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/rate", rateMessageRequest{Rating: rating, Feedback: feedback}, nil)
}

func (c *Client) AnswerClarification(ctx context.Context, id, answer string) error {
	err := c.do(ctx, http.MethodPost, "/clarifications/"+url.PathEscape(id)+"/answer", answerClarificationRequest{Answer: answer}, nil)
	if err != nil {
		return &ClarificationError{Op: "answer", MessageID: id, Err: err}
	}
	return nil
}

func (c *Client) SkipClarification(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodPost, "/clarifications/"+url.PathEscape(id)+"/skip", nil, nil)
	if err != nil {
		return &ClarificationError{Op: "skip", MessageID: id, Err: err}
	}
	return nil
}

func (c *Client) PendingClarifications(ctx context.Context) (PendingCount, error) {
	var out PendingCount
	err := c.do(ctx, http.MethodGet, "/clarifications/pending-count", nil, &out)
	return out, err
}

// StreamMessage opens the SSE stream for one outgoing message. The
// caller owns the returned Stream and must Close it; cancelling ctx
// tears the connection down.
func (c *Client) StreamMessage(ctx context.Context, sessionID, content string) (*Stream, error) {
	body, err := json.Marshal(sendMessageRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sessions/"+url.PathEscape(sessionID)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	c.log.WithField("session", sessionID).Debug("opening message stream")
	resp, err := c.streamc.Do(req)
	if err != nil {
		return nil, wrapTransport("open stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := readErrorDetail(resp.Body)
		resp.Body.Close()
		return nil, statusToError(resp.StatusCode, detail)
	}
	return newStream(ctx, resp.Body), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return wrapTransport(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusToError(resp.StatusCode, readErrorDetail(resp.Body))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
