package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

type stubResolver struct {
	res *permission.Resolution
	err error
}

func (s stubResolver) ResolveForUser(ctx context.Context, userID int64) (*permission.Resolution, error) {
	return s.res, s.err
}

func resolutionWith(allowed ...permission.Capability) *permission.Resolution {
	set, err := permission.NewSet(fullGrants(allowed...))
	if err != nil {
		panic(err)
	}
	return &permission.Resolution{Resolved: set}
}

func requestWithUser(userID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	sess := &shared.Session{ID: "test-session"}
	sess.SetUser(userID)
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func runGuard(t *testing.T, mw func(http.Handler) http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, r)
	return rec
}

func TestRequireAllowsGrantedCapability(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{res: resolutionWith(permission.CapSeeUsers)}}

	rec := runGuard(t, mw.Require(permission.CapSeeUsers), requestWithUser("7"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireDeniesMissingCapability(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{res: resolutionWith(permission.CapSeeUsers)}}

	rec := runGuard(t, mw.Require(permission.CapDeleteUsers), requestWithUser("7"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireDemandsEveryCapability(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{res: resolutionWith(permission.CapSeeUsers)}}

	rec := runGuard(t, mw.Require(permission.CapSeeUsers, permission.CapEditUsers), requestWithUser("7"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnyAcceptsOneOf(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{res: resolutionWith(permission.CapEditUsers)}}

	rec := runGuard(t, mw.RequireAny(permission.CapSeeUsers, permission.CapEditUsers), requestWithUser("7"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireWithoutSessionDenies(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{res: resolutionWith(permission.CapSeeUsers)}}

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := runGuard(t, mw.Require(permission.CapSeeUsers), r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireResolutionFailureIsServerError(t *testing.T) {
	mw := Middleware{Resolver: stubResolver{err: &permission.ResolutionError{
		Fault: permission.FaultMissingRole,
		Err:   errors.New("user 7 has no role"),
	}}}

	rec := runGuard(t, mw.Require(permission.CapSeeUsers), requestWithUser("7"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestActorID(t *testing.T) {
	id, ok := ActorID(requestWithUser("42"))
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ActorID(requestWithUser(""))
	assert.False(t, ok)

	_, ok = ActorID(requestWithUser("not-a-number"))
	assert.False(t, ok)
}
