package remote

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

	"github.com/mithrel/pollsock/pkg/api"
)

// StatusError is returned for non-2xx relay responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay %s: %d", e.Op, e.Status)
	}
	return fmt.Sprintf("relay %s: %d %s", e.Op, e.Status, e.Body)
}

// Client talks to a socket relay over HTTP. It satisfies channel.Remote.
type Client struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	pollTimeout    time.Duration
	httpClient     *http.Client
	log            *zap.Logger
}

type Config struct {
	// BaseURL is the relay origin; endpoints live under /socket/.
	BaseURL string
	Token   string
	// RequestTimeout bounds open, send and close.
	RequestTimeout time.Duration
	// PollTimeout bounds a poll and must exceed the relay hold time.
	PollTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          strings.TrimSpace(cfg.Token),
		requestTimeout: cfg.RequestTimeout,
		pollTimeout:    cfg.PollTimeout,
		httpClient:     cfg.HTTPClient,
		log:            cfg.Logger,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 20 * time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 90 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func (c *Client) Open(ctx context.Context, address string) (string, error) {
	q := url.Values{}
	q.Set("url", address)
	var res api.OpenResult
	if err := c.do(ctx, c.requestTimeout, "open", "/socket/open?"+q.Encode(), nil, &res); err != nil {
		return "", err
	}
	c.log.Debug("relay open", zap.String("address", address), zap.String("id", res.ID))
	return res.ID, nil
}

func (c *Client) Send(ctx context.Context, id, msg string) error {
	q := url.Values{}
	q.Set("id", id)
	return c.do(ctx, c.requestTimeout, "send", "/socket/send?"+q.Encode(), api.SendRequest{Msg: msg}, nil)
}

func (c *Client) Close(ctx context.Context, id string) error {
	return c.do(ctx, c.requestTimeout, "close", "/socket/close", api.CloseRequest{Socket: id}, nil)
}

func (c *Client) Poll(ctx context.Context, id string) ([]api.Event, error) {
	q := url.Values{}
	q.Set("id", id)
	var res api.PollResult
	if err := c.do(ctx, c.pollTimeout, "poll", "/socket/poll?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

// do POSTs body as JSON (if non-nil) and decodes the response into out (if
// non-nil).
func (c *Client) do(ctx context.Context, timeout time.Duration, op, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("relay %s: decode: %w", op, err)
	}
	return nil
}

// IsNotFound reports whether err is a relay 404, i.e. the id is unknown.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
