package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/thew0lf/avnz-app/internal/auth"
	"github.com/thew0lf/avnz-app/internal/shared"
	_ "github.com/thew0lf/avnz-app/testing"
)

type stubRepo struct {
	account    *auth.Account
	membership auth.Membership
	sessions   map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	if s.account == nil {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func (s *stubRepo) Membership(ctx context.Context, userID int64) (auth.Membership, error) {
	return s.membership, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = map[string]int64{}
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := auth.NewHandler(logger, auth.NewService(repo), sessionManager)
	return handler, sessionManager
}

func chiRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}

func activeAccount(t *testing.T, password string) *auth.Account {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &auth.Account{ID: 7, Email: "user@test.local", PasswordHash: string(hashed), IsActive: true}
}

func postLogin(t *testing.T, handler *auth.Handler, sm *shared.SessionManager, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	r := chiRouter(handler)
	r.ServeHTTP(res, req)
	return res, sess
}

func TestLoginSetsSessionScopes(t *testing.T) {
	repo := &stubRepo{
		account:    activeAccount(t, "correctpass"),
		membership: auth.Membership{ClientID: 3, CompanyID: 4, ProjectID: 5},
	}
	handler, sm := newAuthHandler(t, repo)

	res, sess := postLogin(t, handler, sm, `{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code)

	require.Equal(t, "7", sess.User())
	require.Equal(t, "3", sess.Get(shared.SessionClientKey))
	require.Equal(t, "4", sess.Get(shared.SessionCompanyKey))
	require.Equal(t, "5", sess.Get(shared.SessionProjectKey))
	require.Equal(t, int64(7), repo.sessions[sess.ID])
}

func TestLoginWrongPassword(t *testing.T) {
	repo := &stubRepo{account: activeAccount(t, "correctpass")}
	handler, sm := newAuthHandler(t, repo)

	res, sess := postLogin(t, handler, sm, `{"email":"user@test.local","password":"wrongpass"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Empty(t, sess.User())
}

func TestLoginInactiveAccount(t *testing.T) {
	account := activeAccount(t, "correctpass")
	account.IsActive = false
	handler, sm := newAuthHandler(t, &stubRepo{account: account})

	res, _ := postLogin(t, handler, sm, `{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginRejectsMalformedPayload(t *testing.T) {
	handler, sm := newAuthHandler(t, &stubRepo{})

	res, _ := postLogin(t, handler, sm, `{"email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLogoutRemovesSessionRecord(t *testing.T) {
	repo := &stubRepo{
		account:    activeAccount(t, "correctpass"),
		membership: auth.Membership{ClientID: 3},
	}
	handler, sm := newAuthHandler(t, repo)

	_, sess := postLogin(t, handler, sm, `{"email":"user@test.local","password":"correctpass"}`)
	require.Contains(t, repo.sessions, sess.ID)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)
	res := httptest.NewRecorder()
	chiRouter(handler).ServeHTTP(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)
	require.NotContains(t, repo.sessions, sess.ID)
}
