// Package api is the HTTP transport to the support ticket backend.
//
// Every call is authenticated with a bearer token, tagged with an
// X-Request-ID and bounded by a per-request timeout. Non-2xx statuses,
// empty bodies and malformed JSON come back as typed errors from
// internal/errs; the client never retries on its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/logging"
	"github.com/labelhub/supportdesk/internal/models"
)

// DefaultTimeout bounds a request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// DefaultMaxResponseBytes bounds a response body when Config.MaxResponseBytes is zero.
const DefaultMaxResponseBytes = 64 << 20

// ErrResponseTooLarge is wrapped when a response body exceeds the configured limit.
var ErrResponseTooLarge = errors.New("response body too large")

// RequestIDHeader carries the per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests, without a trailing slash.
	BaseURL string

	// Token is the bearer token. Empty tokens send no Authorization header.
	Token string

	// Timeout bounds every request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxResponseBytes bounds every response body. Defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// HTTPClient is used for all requests. Defaults to a plain http.Client.
	HTTPClient *http.Client

	// Logger receives request-level debug logs.
	Logger *zerolog.Logger

	// Observer is told about every completed request, for metrics.
	Observer Observer
}

// Observer receives per-request outcomes.
type Observer interface {
	ObserveRequest(op string, kind errs.Kind, elapsed time.Duration)
}

// Client is a typed client for the support ticket API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxBody    int64
	httpClient *http.Client
	logger     zerolog.Logger
	observer   Observer
}

// NewClient creates an API client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: base URL must be absolute (got %q)", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := logging.Component("api")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		timeout:    timeout,
		maxBody:    maxBody,
		httpClient: httpClient,
		logger:     logger,
		observer:   cfg.Observer,
	}, nil
}

type ticketsResponse struct {
	Tickets []models.Ticket `json:"tickets"`
}

type messageResponse struct {
	Message *models.Message `json:"message"`
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ListTickets fetches every ticket visible to the agent, with threads.
func (c *Client) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	var out ticketsResponse
	if err := c.doJSON(ctx, "list tickets", http.MethodGet, "/api/support/tickets", nil, &out); err != nil {
		return nil, err
	}
	if out.Tickets == nil {
		out.Tickets = []models.Ticket{}
	}
	return out.Tickets, nil
}

// MarkRead records that the agent opened the ticket.
func (c *Client) MarkRead(ctx context.Context, ticketID string) error {
	return c.doJSON(ctx, "mark read", http.MethodPost, ticketPath(ticketID, "read"), nil, nil)
}

// UpdateTicket patches ticket-level fields such as the status.
func (c *Client) UpdateTicket(ctx context.Context, ticketID string, update models.TicketUpdate) error {
	return c.doJSON(ctx, "update ticket", http.MethodPatch, ticketPath(ticketID), update, nil)
}

// SendMessage posts a reply and returns the message as the server stored it.
func (c *Client) SendMessage(ctx context.Context, ticketID string, msg models.NewMessage) (models.Message, error) {
	if msg.Images == nil {
		msg.Images = []string{}
	}
	var out messageResponse
	if err := c.doJSON(ctx, "send message", http.MethodPost, ticketPath(ticketID, "messages"), msg, &out); err != nil {
		return models.Message{}, err
	}
	if out.Message == nil || out.Message.ID == "" {
		return models.Message{}, &errs.TransientError{Op: "send message", Message: "response has no message"}
	}
	return *out.Message, nil
}

// DeleteMessage removes a message from a ticket.
func (c *Client) DeleteMessage(ctx context.Context, ticketID, messageID string) error {
	path := "/api/admin/tickets/" + url.PathEscape(ticketID) + "/messages/" + url.PathEscape(messageID)
	return c.doJSON(ctx, "delete message", http.MethodDelete, path, nil, nil)
}

// ToggleReaction flips the agent's reaction on a message. The server decides
// whether it was added or removed.
func (c *Client) ToggleReaction(ctx context.Context, ticketID, messageID string) (models.ToggleOutcome, error) {
	path := "/api/admin/tickets/" + url.PathEscape(ticketID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	var out models.ToggleOutcome
	if err := c.doJSON(ctx, "toggle reaction", http.MethodPost, path, nil, &out); err != nil {
		return models.ToggleOutcome{}, err
	}
	if !out.Removed && out.Reaction == nil {
		return models.ToggleOutcome{}, &errs.TransientError{Op: "toggle reaction", Message: "response has neither removal nor reaction"}
	}
	return out, nil
}

// Typing reads the typing flag stored for a ticket.
func (c *Client) Typing(ctx context.Context, ticketID string) (models.TypingState, error) {
	var out models.TypingState
	err := c.doJSON(ctx, "get typing", http.MethodGet, ticketPath(ticketID, "typing"), nil, &out)
	return out, err
}

// SetTyping writes the agent's typing flag for a ticket.
func (c *Client) SetTyping(ctx context.Context, ticketID string, state models.TypingState) error {
	return c.doJSON(ctx, "set typing", http.MethodPost, ticketPath(ticketID, "typing"), state, nil)
}

// Upload sends one attachment as multipart field "file" and returns its URL.
func (c *Client) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("api: build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("api: read attachment %q: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("api: build upload: %w", err)
	}

	var out uploadResponse
	err = c.do(ctx, "upload", http.MethodPost, "/api/support/upload", &buf, writer.FormDataContentType(), &out)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &errs.UnknownError{Op: "upload", Message: out.Error}
	}
	return out.URL, nil
}

func ticketPath(ticketID string, suffix ...string) string {
	parts := append([]string{"/api/support/tickets", url.PathEscape(ticketID)}, suffix...)
	return strings.Join(parts, "/")
}

// doJSON encodes body as JSON (nil for none) and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s: %w", op, err)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, reader, contentType, out)
}

// do executes an authenticated request. A nil out accepts any 2xx body.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		if c.observer != nil {
			c.observer.ObserveRequest(op, errs.KindOf(err), elapsed)
		}
		event := c.logger.Debug()
		if err != nil {
			event = event.Str("error", logging.Redact(err.Error()))
		}
		event.Str("op", op).Str("request_id", requestID).Dur("elapsed", elapsed).Msg("api request")
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return &errs.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return &errs.TransientError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if int64(len(raw)) > c.maxBody {
		return &errs.TransientError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("response body exceeds %s", humanize.IBytes(uint64(c.maxBody))),
			Err:     ErrResponseTooLarge,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.FromStatus(op, resp.StatusCode, serverMessage(raw))
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &errs.TransientError{Op: op, Status: resp.StatusCode, Message: "empty response body"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.TransientError{Op: op, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

// serverMessage extracts {"error": "..."} or {"message": "..."} from a body.
func serverMessage(raw []byte) string {
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
