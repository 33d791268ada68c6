package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

func TestRespondAppErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		hint   string
	}{
		{apperr.InvalidInput("bad"), http.StatusBadRequest, ""},
		{apperr.Forbidden("no"), http.StatusForbidden, ""},
		{apperr.NotFound("session", "x"), http.StatusNotFound, ""},
		{&apperr.TransitionError{From: "closed", To: "active"}, http.StatusConflict, "please refresh"},
		{fmt.Errorf("assign: %w", apperr.Conflict("lost")), http.StatusConflict, "please refresh"},
		{apperr.ErrNoEligibleStaff, http.StatusServiceUnavailable, "please wait"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondAppError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body ErrorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Hint != tc.hint {
			t.Fatalf("%v: expected hint %q, got %q", tc.err, tc.hint, body.Hint)
		}
	}
}

func TestRespondAppErrorHidesInfrastructureErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondAppError(rec, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "internal error" {
		t.Fatalf("unexpected body %+v", body)
	}
}
