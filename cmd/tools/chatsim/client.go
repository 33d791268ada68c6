package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

// apiClient talks to the desk API as one client.
type apiClient struct {
	base     string
	http     *http.Client
	clientID string
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/") + "/api",
		http: &http.Client{Timeout: timeout},
	}
}

type openResponse struct {
	chat.Session
	Resumed bool   `json:"resumed"`
	Hint    string `json:"hint,omitempty"`
}

func (c *apiClient) open(ctx context.Context, name, phone string) (openResponse, error) {
	var out openResponse
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"clientName": name, "clientPhone": phone}, &out)
	if err == nil {
		c.clientID = out.ClientID
	}
	return out, err
}

func (c *apiClient) get(ctx context.Context, sessionID string) (chat.Session, error) {
	var out chat.Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &out)
	return out, err
}

func (c *apiClient) send(ctx context.Context, sessionID, text string) (chat.Message, error) {
	var out chat.Message
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", map[string]string{"text": text}, &out)
	return out, err
}

func (c *apiClient) rate(ctx context.Context, sessionID string, value int) (chat.Session, error) {
	var out chat.Session
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/rating", map[string]int{"value": value}, &out)
	return out, err
}

func (c *apiClient) skip(ctx context.Context, sessionID string) (chat.Session, error) {
	var out chat.Session
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/rating/skip", nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &payload)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		req.Header.Set(middleware.HeaderClientID, c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var failure utils.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return remoteError(resp.StatusCode, failure)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

var kinds = map[string]error{
	"invalid_input":     apperr.ErrInvalidInput,
	"forbidden":         apperr.ErrForbidden,
	"not_found":         apperr.ErrNotFound,
	"invalid_state":     apperr.ErrInvalidState,
	"conflict":          apperr.ErrConflict,
	"no_eligible_staff": apperr.ErrNoEligibleStaff,
}

// remoteError restores the error kind reported by the server so callers can
// match it with errors.Is.
func remoteError(status int, body utils.ErrorBody) error {
	msg := body.Error
	if body.Hint != "" {
		msg += " (" + body.Hint + ")"
	}
	if kind, ok := kinds[body.Kind]; ok {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("server returned %d: %s", status, msg)
}
