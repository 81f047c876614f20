package workfront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
)

const notFoundClass = "NotFoundException"

// APIError is the error body returned by the Workfront API
type APIError struct {
	StatusCode int    `json:"-"`
	Class      string `json:"class"`
	Message    string `json:"message"`
	MessageKey string `json:"messageKey"`
}

func (e *APIError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("workfront error (%d) %s: %s", e.StatusCode, e.Class, e.Message)
	}
	return fmt.Sprintf("workfront error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error names a missing object
func (e *APIError) NotFound() bool {
	return strings.HasSuffix(e.Class, notFoundClass)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// StreamClient is a thin HTTP client for the Workfront stream API. It
// keeps the session ID returned by Login and sends it on every call.
type StreamClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewStreamClient creates a new stream client. The baseURL includes the API
// version, e.g. https://example.my.workfront.com/attask/api/v4.0.
func NewStreamClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *StreamClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &StreamClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Login opens a session with an API key
func (c *StreamClient) Login(ctx context.Context, username, apiKey string) error {
	params := url.Values{}
	params.Set("username", username)
	params.Set("apiKey", apiKey)

	var session struct {
		SessionID string `json:"sessionID"`
	}
	if err := c.do(ctx, "workfront.login", http.MethodPost, "/login", params, &session); err != nil {
		return err
	}
	if session.SessionID == "" {
		return gateway.Errorf(gateway.KindTransport, "workfront.login", "no session returned for %s", username)
	}

	c.mu.Lock()
	c.sessionID = session.SessionID
	c.mu.Unlock()

	c.logger.Debug("logged in to workfront", zap.String("username", username))
	return nil
}

// Logout closes the current session
func (c *StreamClient) Logout(ctx context.Context) error {
	if !c.LoggedIn() {
		return nil
	}

	err := c.do(ctx, "workfront.logout", http.MethodGet, "/logout", nil, nil)

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	return err
}

// LoggedIn reports whether a session is open
func (c *StreamClient) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID != ""
}

// Search returns the objects of objCode matching params
func (c *StreamClient) Search(ctx context.Context, objCode string, params map[string]string, fields []string) ([]Object, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var results []Object
	if err := c.do(ctx, "workfront.search."+objCode, http.MethodGet, "/"+objCode+"/search", q, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Create creates an object and returns it with the requested fields
func (c *StreamClient) Create(ctx context.Context, objCode string, updates map[string]any, fields []string) (Object, error) {
	q, err := updateParams(updates, fields)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "workfront.create."+objCode, err)
	}

	var result Object
	if err := c.do(ctx, "workfront.create."+objCode, http.MethodPost, "/"+objCode, q, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Update modifies an existing object
func (c *StreamClient) Update(ctx context.Context, objCode, id string, updates map[string]any, fields []string) (Object, error) {
	q, err := updateParams(updates, fields)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "workfront.update."+objCode, err)
	}

	var result Object
	path := "/" + objCode + "/" + url.PathEscape(id)
	if err := c.do(ctx, "workfront.update."+objCode, http.MethodPut, path, q, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes an object
func (c *StreamClient) Delete(ctx context.Context, objCode, id string) error {
	var result struct {
		Success bool `json:"success"`
	}
	path := "/" + objCode + "/" + url.PathEscape(id)
	if err := c.do(ctx, "workfront.delete."+objCode, http.MethodDelete, path, nil, &result); err != nil {
		return err
	}
	if !result.Success {
		return gateway.Errorf(gateway.KindTransport, "workfront.delete."+objCode, "delete of %s was not acknowledged", id)
	}
	return nil
}

func updateParams(updates map[string]any, fields []string) (url.Values, error) {
	data, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("marshaling updates: %w", err)
	}

	q := url.Values{}
	q.Set("updates", string(data))
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	return q, nil
}

// do sends a request and decodes the data member of the response envelope
// into result.
func (c *StreamClient) do(ctx context.Context, op, method, path string, params url.Values, result any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return gateway.NewError(gateway.KindTransport, op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set("SessionID", c.sessionID)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gateway.NewError(gateway.KindTransport, op, fmt.Errorf("executing request %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.NewError(gateway.KindTransport, op, fmt.Errorf("reading response body: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return gateway.NewError(gateway.KindTransport, op, &APIError{StatusCode: resp.StatusCode, Message: string(body)})
		}
		return gateway.NewError(gateway.KindTransport, op, fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err))
	}

	if env.Error != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.StatusCode = resp.StatusCode

		kind := gateway.KindTransport
		if apiErr.NotFound() {
			kind = gateway.KindNotFound
		}
		return gateway.NewError(kind, op, apiErr)
	}

	if result == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, result); err != nil {
		return gateway.NewError(gateway.KindTransport, op, fmt.Errorf("unmarshaling data from %s %s: %w", method, path, err))
	}
	return nil
}
