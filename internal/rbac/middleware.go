package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/thew0lf/avnz-app/internal/shared"
)

// DecisionRecorder counts authorization outcomes for observability.
type DecisionRecorder interface {
	RecordAuthzDecision(outcome string)
}

// ScopeResolver extracts the scope an endpoint is gated on from the request.
type ScopeResolver func(*http.Request) (Scope, error)

// Middleware wires scoped authorization checks into HTTP handlers. Engine
// failures surface as 500, never as an allow or a deny: the gate fails closed.
type Middleware struct {
	Service  *Service
	Acl      *ResourceAclService
	Logger   *slog.Logger
	Recorder DecisionRecorder

	// group collapses concurrent permission lookups for the same
	// (user, scope) key. It never caches results across requests; grants
	// change at runtime with no invalidation signal.
	group singleflight.Group
}

// ScopeFromSession resolves the scope id of the given type from the session
// values set at login (client_id, company_id, project_id).
func ScopeFromSession(t ScopeType) ScopeResolver {
	key := string(t) + "_id"
	return func(r *http.Request) (Scope, error) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			return Scope{}, fmt.Errorf("%w: no session", ErrInvalidScope)
		}
		raw := strings.TrimSpace(sess.Get(key))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, fmt.Errorf("%w: session missing %s", ErrInvalidScope, key)
		}
		return ScopeFor(t, id), nil
	}
}

// ScopeFromURLParam resolves the scope id from a chi route parameter.
func ScopeFromURLParam(t ScopeType, param string) ScopeResolver {
	return func(r *http.Request) (Scope, error) {
		id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, fmt.Errorf("%w: bad route param %s", ErrInvalidScope, param)
		}
		return ScopeFor(t, id), nil
	}
}

// GlobalScopeResolver gates on unscoped assignments only.
func GlobalScopeResolver() ScopeResolver {
	return func(*http.Request) (Scope, error) { return GlobalScope(), nil }
}

// RequirePermission ensures the current user holds the permission at the
// resolved scope, either through a role assigned at exactly that scope or, when
// resourceType is non-empty, through a direct resource ACL grant on the scoped
// resource.
func (m *Middleware) RequirePermission(permission string, resolve ScopeResolver, resourceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				m.deny(w, "unauthenticated")
				return
			}
			scope, err := resolve(r)
			if err != nil {
				m.deny(w, "scope")
				return
			}
			granted, err := m.effectivePermissions(r, userID, scope)
			if err != nil {
				m.fail(w, "require permission", err)
				return
			}
			for _, p := range granted {
				if p == permission {
					m.allow(next, w, r)
					return
				}
			}
			if resourceType != "" && m.Acl != nil {
				allowed, err := m.Acl.Allows(r.Context(), userID, resourceType, scope.ID, permission)
				if err != nil {
					m.fail(w, "resource acl check", err)
					return
				}
				if allowed {
					m.allow(next, w, r)
					return
				}
			}
			m.deny(w, "denied")
		})
	}
}

// RequireRole ensures the current user holds the role at the resolved scope.
func (m *Middleware) RequireRole(role string, resolve ScopeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				m.deny(w, "unauthenticated")
				return
			}
			scope, err := resolve(r)
			if err != nil {
				m.deny(w, "scope")
				return
			}
			has, err := m.Service.Has(r.Context(), userID, RoleByName(role), scope)
			if err != nil {
				m.fail(w, "require role", err)
				return
			}
			if !has {
				m.deny(w, "denied")
				return
			}
			m.allow(next, w, r)
		})
	}
}

func (m *Middleware) effectivePermissions(r *http.Request, userID int64, scope Scope) ([]string, error) {
	key := strconv.FormatInt(userID, 10) + "|" + scope.String()
	// The collapsed lookup is shared by every caller on the same key, so it
	// must not die with the first caller's request context.
	ctx := context.WithoutCancel(r.Context())
	result, err, _ := m.group.Do(key, func() (any, error) {
		return m.Service.EffectivePermissions(ctx, userID, scope)
	})
	if err != nil {
		return nil, err
	}
	perms, _ := result.([]string)
	return perms, nil
}

func (m *Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

func (m *Middleware) allow(next http.Handler, w http.ResponseWriter, r *http.Request) {
	if m.Recorder != nil {
		m.Recorder.RecordAuthzDecision("allow")
	}
	next.ServeHTTP(w, r)
}

func (m *Middleware) deny(w http.ResponseWriter, reason string) {
	if m.Recorder != nil {
		m.Recorder.RecordAuthzDecision("deny")
	}
	if m.Logger != nil {
		m.Logger.Debug("rbac deny", slog.String("reason", reason))
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (m *Middleware) fail(w http.ResponseWriter, op string, err error) {
	if m.Recorder != nil {
		m.Recorder.RecordAuthzDecision("error")
	}
	if m.Logger != nil {
		m.Logger.Error("rbac "+op, slog.Any("error", err))
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
