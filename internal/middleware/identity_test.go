package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
)

type memberLookup struct{ store *staff.MemoryStore }

func (m memberLookup) Member(ctx context.Context, id string) (staff.Member, error) {
	return m.store.Get(ctx, id)
}

func newLookup() memberLookup {
	return memberLookup{store: staff.NewMemoryStore([]staff.Member{
		{ID: "op-1", DisplayName: "Anna", Role: staff.RoleOperator},
	})}
}

func serve(headers map[string]string, wrap func(http.Handler) http.Handler) (*httptest.ResponseRecorder, Principal) {
	var seen Principal
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	if wrap != nil {
		h = wrap(h)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	Identity(newLookup())(h).ServeHTTP(rec, req)
	return rec, seen
}

func TestIdentityResolvesStaff(t *testing.T) {
	rec, p := serve(map[string]string{HeaderStaffID: "op-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, p.IsStaff())

	actor, ok := p.StaffActor()
	require.True(t, ok)
	assert.Equal(t, access.Actor{ID: "op-1", Role: access.RoleOperator}, actor)
}

func TestIdentityRejectsUnknownStaff(t *testing.T) {
	rec, _ := serve(map[string]string{HeaderStaffID: "ghost"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityClientHeaders(t *testing.T) {
	rec, p := serve(map[string]string{HeaderClientPhone: " +70001112233 "}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, p.IsStaff())

	session := chat.Session{ID: "s-1", ClientID: "c-1", ClientPhone: "+70001112233"}
	assert.Equal(t, access.Client("c-1"), p.ActorFor(session))

	other := chat.Session{ID: "s-2", ClientID: "c-2", ClientPhone: "+79990000000"}
	assert.False(t, access.Allowed(p.ActorFor(other), access.CapRead, other))

	_, byID := serve(map[string]string{HeaderClientID: "c-9"}, nil)
	assert.Equal(t, access.Client("c-9"), byID.ActorFor(session))
}

func TestRequireStaff(t *testing.T) {
	rec, _ := serve(nil, RequireStaff)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(map[string]string{HeaderStaffID: "op-1"}, RequireStaff)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
