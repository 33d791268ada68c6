package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

const (
	HeaderStaffID     = "X-Staff-Id"
	HeaderClientID    = "X-Client-Id"
	HeaderClientPhone = "X-Client-Phone"
)

type principalKey struct{}

// Principal is the caller as claimed by the request headers. Authentication
// happens in front of this service.
type Principal struct {
	Staff       *staff.Member
	ClientID    string
	ClientPhone string
}

// IsStaff reports whether the caller is a staff member.
func (p Principal) IsStaff() bool {
	return p.Staff != nil
}

// StaffActor returns the actor of a staff caller.
func (p Principal) StaffActor() (access.Actor, bool) {
	if p.Staff == nil {
		return access.Actor{}, false
	}
	return access.Staff(*p.Staff), true
}

// ActorFor resolves the caller against a session. A client identified only by
// phone becomes the session's client when the phone matches.
func (p Principal) ActorFor(s chat.Session) access.Actor {
	if actor, ok := p.StaffActor(); ok {
		return actor
	}
	if p.ClientID != "" {
		return access.Client(p.ClientID)
	}
	if p.ClientPhone != "" && p.ClientPhone == s.ClientPhone {
		return access.Client(s.ClientID)
	}
	return access.Client("")
}

// StaffLookup resolves staff ids.
type StaffLookup interface {
	Member(ctx context.Context, staffID string) (staff.Member, error)
}

// Identity reads the caller headers into the request context. An unknown
// staff id is rejected with 401.
func Identity(lookup StaffLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p Principal
			if staffID := strings.TrimSpace(r.Header.Get(HeaderStaffID)); staffID != "" {
				member, err := lookup.Member(r.Context(), staffID)
				if errors.Is(err, apperr.ErrNotFound) {
					utils.RespondError(w, http.StatusUnauthorized, "unknown staff member")
					return
				}
				if err != nil {
					utils.RespondAppError(w, err)
					return
				}
				p.Staff = &member
			} else {
				p.ClientID = strings.TrimSpace(r.Header.Get(HeaderClientID))
				p.ClientPhone = strings.TrimSpace(r.Header.Get(HeaderClientPhone))
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by Identity.
func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// RequireStaff rejects callers without a staff identity.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFrom(r.Context()).IsStaff() {
			utils.RespondError(w, http.StatusUnauthorized, HeaderStaffID+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
