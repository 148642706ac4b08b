package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thew0lf/avnz-app/internal/shared"
)

func gatedRequest(t *testing.T, userID int64, clientID int64) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	sess := &shared.Session{}
	if userID != 0 {
		sess.SetUser(strconv.FormatInt(userID, 10))
	}
	if clientID != 0 {
		sess.Set(shared.SessionClientKey, strconv.FormatInt(clientID, 10))
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestRequirePermissionAllows(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Administrator", "view")
	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), ScopeFor(ScopeClient, 3))
	require.NoError(t, err)

	m := &Middleware{Service: svc, Acl: NewResourceAclService(store)}
	next, called := okHandler()
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "")(next).ServeHTTP(res, gatedRequest(t, 7, 3))

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, *called)
}

func TestRequirePermissionDeniesOtherScope(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Administrator", "view")
	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), ScopeFor(ScopeClient, 99))
	require.NoError(t, err)

	m := &Middleware{Service: svc}
	next, called := okHandler()
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "")(next).ServeHTTP(res, gatedRequest(t, 7, 3))

	require.Equal(t, http.StatusForbidden, res.Code)
	require.False(t, *called)
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	store := newMemStore()
	m := &Middleware{Service: NewService(store)}
	next, called := okHandler()
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "")(next).ServeHTTP(res, gatedRequest(t, 0, 3))

	require.Equal(t, http.StatusForbidden, res.Code)
	require.False(t, *called)
}

func TestRequirePermissionFailsClosed(t *testing.T) {
	m := &Middleware{Service: NewService(failingStore{newMemStore()})}
	next, called := okHandler()
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "")(next).ServeHTTP(res, gatedRequest(t, 7, 3))

	// A storage failure must never resolve to an allow or a deny.
	require.Equal(t, http.StatusInternalServerError, res.Code)
	require.False(t, *called)
}

func TestRequirePermissionResourceOverride(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	acl := NewResourceAclService(store)
	_, err := acl.Grant(context.Background(), 7, "client", 3, []string{"view"})
	require.NoError(t, err)

	m := &Middleware{Service: svc, Acl: acl}
	next, called := okHandler()
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "client")(next).ServeHTTP(res, gatedRequest(t, 7, 3))

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, *called)
}

func TestRequireRole(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Administrator")
	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), ScopeFor(ScopeClient, 3))
	require.NoError(t, err)

	m := &Middleware{Service: svc}
	next, _ := okHandler()
	mw := m.RequireRole("Administrator", ScopeFromSession(ScopeClient))(next)

	res := httptest.NewRecorder()
	mw.ServeHTTP(res, gatedRequest(t, 7, 3))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	mw.ServeHTTP(res, gatedRequest(t, 8, 3))
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestRequirePermissionSurvivesCallerCancellation(t *testing.T) {
	store := newMemStore()
	svc := NewService(ctxCheckStore{store})
	role := seedRole(t, store, "Administrator", "view")
	_, err := NewService(store).Grant(context.Background(), 7, RoleByID(role.ID), ScopeFor(ScopeClient, 3))
	require.NoError(t, err)

	m := &Middleware{Service: svc}
	next, called := okHandler()
	req := gatedRequest(t, 7, 3)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	// The collapsed lookup is shared across callers; one caller giving up must
	// not turn everyone else's decision into an error.
	res := httptest.NewRecorder()
	m.RequirePermission("view", ScopeFromSession(ScopeClient), "")(next).ServeHTTP(res, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, *called)
}

// failingStore returns a storage error from every read.
type failingStore struct {
	*memStore
}

func (failingStore) ScopePermissionNames(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	return nil, errors.New("connection reset")
}

// ctxCheckStore surfaces caller cancellation as a storage error.
type ctxCheckStore struct {
	*memStore
}

func (s ctxCheckStore) ScopePermissionNames(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.memStore.ScopePermissionNames(ctx, userID, scope)
}
