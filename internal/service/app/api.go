package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"snapsafe/internal/model"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrTransport covers network failures, timeouts and 5xx responses.
	// The operation may be retried.
	ErrTransport = errors.New("transport failure")

	ErrDirectoryUploadFailed = errors.New("public key upload failed")
	ErrRecipientKeyNotFound  = errors.New("recipient public key not found")
)

// APIError is a non-2xx answer from the relay.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrTransport && e.StatusCode >= http.StatusInternalServerError
}

// API talks to the relay's key directory and mailbox endpoints.
type API struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	dialer  *websocket.Dialer
}

func NewAPI(baseURL string, timeout time.Duration) (*API, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &API{
		base:    u,
		client:  &http.Client{},
		timeout: timeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}, nil
}

func (a *API) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return a.base.JoinPath(escaped...).String()
}

// do sends body as JSON and decodes a 2xx answer into out. Non-2xx answers
// become *APIError.
func (a *API) do(ctx context.Context, method, endpoint string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e model.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	return nil
}

func (a *API) UploadKey(ctx context.Context, identity string, publicKey json.RawMessage) error {
	req := &model.KeyUploadRequest{
		UserID:    identity,
		PublicKey: publicKey,
	}

	var res model.SuccessResponse
	if err := a.do(ctx, http.MethodPost, a.endpoint("keys"), req, &res); err != nil {
		return fmt.Errorf("%w: %w", ErrDirectoryUploadFailed, err)
	}
	if !res.Success {
		return fmt.Errorf("%w: relay did not confirm", ErrDirectoryUploadFailed)
	}
	return nil
}

func (a *API) LookupKey(ctx context.Context, identity string) (json.RawMessage, error) {
	var res model.KeyResponse
	err := a.do(ctx, http.MethodGet, a.endpoint("keys", identity), nil, &res)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRecipientKeyNotFound, identity)
	}
	if err != nil {
		return nil, err
	}
	if len(res.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecipientKeyNotFound, identity)
	}
	return res.PublicKey, nil
}

func (a *API) PostMessage(ctx context.Context, e *model.Envelope) error {
	var res model.SuccessResponse
	if err := a.do(ctx, http.MethodPost, a.endpoint("messages"), model.NewSendMessageRequest(e), &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: relay did not confirm", ErrTransport)
	}
	return nil
}

// FetchMessages drains the mailbox of recipientID. An empty mailbox is not
// an error.
func (a *API) FetchMessages(ctx context.Context, recipientID string) ([]*model.Envelope, error) {
	var res []*model.InboundMessage
	err := a.do(ctx, http.MethodGet, a.endpoint("messages", recipientID), nil, &res)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return []*model.Envelope{}, nil
	}
	if err != nil {
		return nil, err
	}

	envelopes := make([]*model.Envelope, 0, len(res))
	for _, m := range res {
		envelopes = append(envelopes, m.Envelope(recipientID))
	}
	return envelopes, nil
}

// DialNotifications opens the websocket the relay uses to announce new
// envelopes for identity.
func (a *API) DialNotifications(ctx context.Context, identity string) (*websocket.Conn, error) {
	u := *a.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u = *u.JoinPath("ws")
	u.RawQuery = url.Values{"userID": []string{identity}}.Encode()

	conn, _, err := a.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return conn, nil
}
