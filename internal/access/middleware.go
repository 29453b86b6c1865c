package access

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/compasshq/compass/internal/observability"
	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

// ResolverPort is the slice of Service the middleware needs.
type ResolverPort interface {
	ResolveForUser(ctx context.Context, userID int64) (*permission.Resolution, error)
}

// Middleware guards HTTP routes with capability checks. It resolves once
// per request and consults the Gate; it never re-derives permissions from
// raw role or group data.
type Middleware struct {
	Resolver ResolverPort
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Require ensures the current user holds every listed capability.
func (m Middleware) Require(caps ...permission.Capability) func(http.Handler) http.Handler {
	return m.guard(caps, false)
}

// RequireAny ensures the current user holds at least one listed capability.
func (m Middleware) RequireAny(caps ...permission.Capability) func(http.Handler) http.Handler {
	return m.guard(caps, true)
}

func (m Middleware) guard(caps []permission.Capability, any bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(caps) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := ActorID(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			res, err := m.Resolver.ResolveForUser(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if m.authorized(res.Resolved, caps, any) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) authorized(resolved permission.Set, caps []permission.Capability, any bool) bool {
	granted := !any
	for _, c := range caps {
		ok := permission.Authorize(resolved, c)
		m.Metrics.AuthzDecision(string(c), ok)
		if any && ok {
			granted = true
		}
		if !any && !ok {
			granted = false
		}
	}
	return granted
}

// ActorID extracts the authenticated user's ID from the request session.
func ActorID(r *http.Request) (int64, bool) {
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
		return 0, false
	}
	return id, true
}
