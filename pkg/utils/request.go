package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// DecodeJSON reads the request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.InvalidInput("invalid request body")
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON that accepts an empty body.
func DecodeOptionalJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.InvalidInput("invalid request body")
}
