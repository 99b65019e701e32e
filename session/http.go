package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/types"
	"github.com/tidwall/gjson"
)

// HeaderCallID carries the correlation id of an HTTP tool call
const HeaderCallID = "X-Call-Id"

// HTTPSession talks to a provider exposing the HTTP tool endpoint
type HTTPSession struct {
	*guard
	baseURL string
	client  *http.Client
}

// ConnectHTTP creates a session against baseURL. No request is made until Initialize.
func ConnectHTTP(ctx context.Context, baseURL string, httpClient *http.Client, opts Options) (*HTTPSession, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid provider URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "transport", "http", "url", baseURL)
	return &HTTPSession{
		guard:   newGuard(opts.withDefaults()),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}, nil
}

// Initialize checks that the provider answers its health endpoint
func (s *HTTPSession) Initialize(ctx context.Context) error {
	const op = "initialize"
	release, err := s.acquire(ctx, op, false)
	if err != nil {
		return err
	}
	defer release()

	status, _, body, err := s.do(ctx, op, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &types.TransportError{Op: op, Err: errors.Newf("health check returned %d: %s", status, body)}
	}

	s.initialized.Store(true)
	return nil
}

// ListTools fetches the tool descriptors. Nothing is cached.
func (s *HTTPSession) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	const op = "list_tools"
	release, err := s.acquire(ctx, op, true)
	if err != nil {
		return nil, err
	}
	defer release()

	status, _, body, err := s.do(ctx, op, http.MethodGet, "/tools", nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &types.TransportError{Op: op, Err: errors.Newf("unexpected status %d", status)}
	}

	tools := gjson.GetBytes(body, "tools")
	if !tools.IsArray() {
		return nil, &types.TransportError{Op: op, Err: errors.New("response has no tools list")}
	}

	var list []types.ToolDescriptor
	if err := json.Unmarshal([]byte(tools.Raw), &list); err != nil {
		return nil, &types.TransportError{Op: op, Err: errors.Wrap(err, "decode tools")}
	}
	for i := range list {
		if list[i].InputSchema.Type == "" {
			list[i].InputSchema.Type = "object"
		}
	}
	return list, nil
}

// CallTool posts the arguments to the tool endpoint
func (s *HTTPSession) CallTool(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResult, error) {
	const op = "call_tool"
	release, err := s.acquire(ctx, op, true)
	if err != nil {
		return nil, err
	}
	defer release()

	if req.ParseError != nil {
		return nil, types.InvalidArguments(req.Name, "malformed arguments: %v", req.ParseError)
	}

	payload := []byte(req.ArgumentsJSON())
	status, header, body, err := s.do(ctx, op, http.MethodPost, "/tools/"+url.PathEscape(req.Name), payload, req.ID)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		code := gjson.GetBytes(body, "error.code").String()
		msg := gjson.GetBytes(body, "error.message").String()
		switch code {
		case types.CodeUnknownTool, types.CodeInvalidArguments:
			return nil, types.ErrorFromCode(req.Name, code, msg)
		}
		return nil, &types.TransportError{
			Op:  op,
			Err: errors.Newf("%s returned %d: %s", req.Name, status, strings.TrimSpace(string(body))),
		}
	}

	if id := header.Get(HeaderCallID); id != "" && id != req.ID {
		return nil, &types.TransportError{
			Op:  op,
			Err: errors.Newf("result correlates to %q, expected %q", id, req.ID),
		}
	}

	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return nil, &types.TransportError{Op: op, Err: errors.New("response has no result")}
	}

	return &types.ToolCallResult{CallID: req.ID, Content: result.Value()}, nil
}

func (s *HTTPSession) do(ctx context.Context, op, method, path string, payload []byte, callID string) (int, http.Header, []byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, &types.TransportError{Op: op, Err: err}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if callID != "" {
		httpReq.Header.Set(HeaderCallID, callID)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, &types.TransportError{Op: op, Err: errors.Wrap(err, "read response")}
	}

	logger.ContextKV(ctx, xlog.DEBUG, "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, resp.Header, respBody, nil
}

// Close releases idle connections. It is idempotent.
func (s *HTTPSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.client.CloseIdleConnections()
	})
	return nil
}
