package rbac

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/shared"
)

type stubAuthorizer struct {
	allowed bool
	calls   int
	caller  int64
	pred    string
}

func (s *stubAuthorizer) Authorize(_ context.Context, callerID int64, pred access.Predicate) access.AuthzResult {
	s.calls++
	s.caller = callerID
	s.pred = pred.String()
	if s.allowed {
		return access.AuthzResult{Allowed: true}
	}
	return access.AuthzResult{DeniedReason: "requires " + pred.String()}
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, actorID int64) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/roles/history", nil)
	if actorID != 0 {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actorID))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, reached
}

func TestRequireRoleAllows(t *testing.T) {
	authz := &stubAuthorizer{allowed: true}
	rr, reached := serve(t, Middleware{Authorizer: authz}.RequireRole("admin"), 7)
	if !reached || rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if authz.caller != 7 {
		t.Fatalf("expected caller 7, got %d", authz.caller)
	}
}

func TestRequireDeniesWithProblem(t *testing.T) {
	authz := &stubAuthorizer{}
	rr, reached := serve(t, Middleware{Authorizer: authz}.RequireAll("view_logs", "admin"), 9)
	if reached {
		t.Fatalf("handler must not run when denied")
	}
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Required permissions: view_logs, admin") {
		t.Fatalf("expected denial notice, got %s", rr.Body.String())
	}
}

func TestRequireWithoutActor(t *testing.T) {
	authz := &stubAuthorizer{allowed: true}
	rr, reached := serve(t, Middleware{Authorizer: authz}.RequireAny("view_users"), 0)
	if reached || rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", rr.Code)
	}
	if authz.calls != 0 {
		t.Fatalf("authorizer must not be consulted without an actor")
	}
}

func TestRequireAdminLogsDenial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	authz := &stubAuthorizer{}
	rr, reached := serve(t, Middleware{Authorizer: authz, Logger: logger}.RequireAdmin(), 12)
	if reached || rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Required role: admin") {
		t.Fatalf("expected admin notice, got %s", rr.Body.String())
	}
	if !strings.Contains(buf.String(), `"msg":"access denied"`) || !strings.Contains(buf.String(), `"caller_id":12`) {
		t.Fatalf("expected denial log with caller id, got %s", buf.String())
	}
}

func TestRequireContentManagerAcceptsEitherRole(t *testing.T) {
	authz := &stubAuthorizer{allowed: true}
	rr, reached := serve(t, Middleware{Authorizer: authz}.RequireContentManager(), 5)
	if !reached || rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if !strings.Contains(authz.pred, "admin") || !strings.Contains(authz.pred, "content_manager") {
		t.Fatalf("unexpected requirement %q", authz.pred)
	}
}
