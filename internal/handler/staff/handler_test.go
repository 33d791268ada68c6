package staff

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
	"github.com/zhouzirui/supportdesk/backend/internal/service/assignment"
	chatservice "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/events"
	"github.com/zhouzirui/supportdesk/backend/internal/service/presence"
	"github.com/zhouzirui/supportdesk/backend/internal/service/rating"
)

type fixture struct {
	router  *chi.Mux
	chatSvc *chatservice.Service
	engine  *assignment.Engine
}

func setupRouter() fixture {
	store := chat.NewMemoryStore()
	pub := &events.Recorder{}
	tracker := presence.NewTracker(staff.NewMemoryStore([]staff.Member{
		{ID: "op-1", DisplayName: "Anna", Role: staff.RoleOperator},
		{ID: "op-2", DisplayName: "Boris", Role: staff.RoleOperator},
		{ID: "admin", DisplayName: "Admin", Role: staff.RoleSuperAdmin},
	}), store, pub)
	chatSvc := chatservice.NewService(store, pub)
	engine := assignment.NewEngine(store, tracker, pub)

	r := chi.NewRouter()
	r.Use(middleware.Identity(tracker))
	New(tracker, engine, chatSvc, rating.NewWorkflow(store, pub, rating.DefaultConfig())).RegisterRoutes(r)
	return fixture{router: r, chatSvc: chatSvc, engine: engine}
}

func (f fixture) do(method, path, staffID string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if staffID != "" {
		req.Header.Set(middleware.HeaderStaffID, staffID)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestStaffRoutesRequireStaff(t *testing.T) {
	f := setupRouter()
	if resp := f.do(http.MethodGet, "/staff/me", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := f.do(http.MethodGet, "/staff/me", "nobody", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown staff, got %d", resp.Code)
	}
}

func TestGoingOnlineDrainsQueue(t *testing.T) {
	f := setupRouter()
	ctx := context.Background()
	queued, err := f.chatSvc.CreateSession(ctx, "Ivan", "+70001234567")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := f.do(http.MethodPut, "/staff/me/status", "op-1", map[string]string{"status": "online"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out statusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Member.Status != staff.StatusOnline {
		t.Fatalf("expected online, got %s", out.Member.Status)
	}
	if out.Sweep == nil || out.Sweep.Assigned[queued.ID] != "op-1" {
		t.Fatalf("expected queued session assigned to op-1, got %+v", out.Sweep)
	}

	if resp := f.do(http.MethodPut, "/staff/me/status", "op-1", map[string]string{"status": "lunch"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}

func TestGoingOfflineRequeuesToColleague(t *testing.T) {
	f := setupRouter()
	ctx := context.Background()

	f.do(http.MethodPut, "/staff/me/status", "op-1", map[string]string{"status": "online"})
	for _, p := range []string{"+70000000001", "+70000000002"} {
		s, err := f.chatSvc.CreateSession(ctx, "Client", p)
		if err != nil {
			t.Fatalf("CreateSession err: %v", err)
		}
		if _, err := f.engine.Assign(ctx, s.ID); err != nil {
			t.Fatalf("Assign err: %v", err)
		}
	}
	f.do(http.MethodPut, "/staff/me/status", "op-2", map[string]string{"status": "rest"})

	resp := f.do(http.MethodPut, "/staff/me/status", "op-1", map[string]string{"status": "offline"})
	var out statusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Requeued) != 2 {
		t.Fatalf("expected 2 requeued sessions, got %v", out.Requeued)
	}
	if out.Sweep == nil || out.Sweep.Queued != 2 {
		t.Fatalf("expected both sessions to stay queued, got %+v", out.Sweep)
	}

	f.do(http.MethodPut, "/staff/me/status", "op-2", map[string]string{"status": "online"})
	var mine []chat.Session
	if err := json.Unmarshal(f.do(http.MethodGet, "/staff/me/sessions?status=active", "op-2", nil).Body.Bytes(), &mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected op-2 to hold both sessions, got %d", len(mine))
	}
}

func TestEligibleListsOnlineOperators(t *testing.T) {
	f := setupRouter()
	f.do(http.MethodPut, "/staff/me/status", "op-2", map[string]string{"status": "online"})
	f.do(http.MethodPut, "/staff/me/status", "admin", map[string]string{"status": "online"})

	var candidates []presence.Candidate
	if err := json.Unmarshal(f.do(http.MethodGet, "/staff/eligible", "op-1", nil).Body.Bytes(), &candidates); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Member.ID != "op-2" {
		t.Fatalf("expected only op-2, got %+v", candidates)
	}
}

func TestTeamManagementIsAdminOnly(t *testing.T) {
	f := setupRouter()
	member := map[string]string{"id": "op-3", "displayName": "Vera", "role": "operator"}

	if resp := f.do(http.MethodPost, "/staff", "op-1", member); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", resp.Code)
	}
	if resp := f.do(http.MethodPost, "/staff", "admin", member); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := f.do(http.MethodPost, "/staff", "admin", map[string]string{"id": "x", "displayName": "X", "role": "boss"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.Code)
	}

	var members []staff.Member
	if err := json.Unmarshal(f.do(http.MethodGet, "/staff", "admin", nil).Body.Bytes(), &members); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("expected 4 members, got %d", len(members))
	}

	if resp := f.do(http.MethodGet, "/staff/me", "op-3", nil); resp.Code != http.StatusOK {
		t.Fatalf("new member should resolve, got %d", resp.Code)
	}
}

func TestRoleChangeHandsChatsToColleague(t *testing.T) {
	f := setupRouter()
	ctx := context.Background()

	f.do(http.MethodPut, "/staff/me/status", "op-1", map[string]string{"status": "online"})
	s, err := f.chatSvc.CreateSession(ctx, "Client", "+70000000003")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := f.engine.Assign(ctx, s.ID); err != nil {
		t.Fatalf("Assign err: %v", err)
	}
	f.do(http.MethodPut, "/staff/me/status", "op-2", map[string]string{"status": "online"})

	resp := f.do(http.MethodPost, "/staff", "admin", map[string]string{"id": "op-1", "displayName": "Anna", "role": "qcc"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	got, err := f.chatSvc.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.Status != chat.StatusActive || got.AssignedOperatorID != "op-2" {
		t.Fatalf("expected session to move to op-2, got %s/%s", got.Status, got.AssignedOperatorID)
	}
}

func TestMyQCReports(t *testing.T) {
	f := setupRouter()
	resp := f.do(http.MethodGet, "/staff/me/qc", "op-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := bytes.TrimSpace(resp.Body.Bytes()); string(body) != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}
