package seed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/demosut"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/session"
	"github.com/raysh454/probekit/internal/webclient"
)

func adminSession(t *testing.T) (*session.Session, model.Target) {
	t.Helper()
	srv, err := demosut.NewServer(demosut.DefaultConfig(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	target, err := model.NewTarget(ts.URL, model.EnvLocal)
	require.NoError(t, err)
	mgr := session.NewManager(target, session.Config{HTTPTimeout: 2 * time.Second, SettleTimeout: 2 * time.Second}, nil)
	sess, err := mgr.Login(context.Background(), model.Credential{
		Role: model.RoleAdmin, Email: "admin@example.com", Password: "AdminPass123!",
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close(context.Background(), sess) })
	return sess, target
}

func TestDefaultFixtures(t *testing.T) {
	f, err := DefaultFixtures()
	require.NoError(t, err)
	assert.NotEmpty(t, f.Users)
	assert.NotEmpty(t, f.Items)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("users:\n  - email: nobody\n    password: x\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("items:\n  - name: no sku\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("users: [\n"))
	assert.Error(t, err)
}

func TestWithCredential(t *testing.T) {
	f := Fixtures{Users: []User{{Email: "a@example.com", Password: "x"}}}
	user := model.Credential{Role: model.RoleUser, Email: "b@example.com", Password: "UserPass123!"}

	got := f.WithCredential(user)
	require.Len(t, got.Users, 2)
	assert.Equal(t, "user", got.Users[1].Role)
	assert.Len(t, f.Users, 1)

	assert.Len(t, got.WithCredential(user).Users, 2)
	assert.Len(t, f.WithCredential(model.Credential{Role: model.RoleUser}).Users, 1)
}

func TestClassify(t *testing.T) {
	r, err := classify(http.StatusCreated, nil)
	assert.Equal(t, created, r)
	assert.NoError(t, err)

	r, err = classify(http.StatusBadRequest, []byte(`{"error":"User with email x already exists"}`))
	assert.Equal(t, existing, r)
	assert.NoError(t, err)

	r, err = classify(http.StatusBadRequest, []byte(`{"error":"Email is invalid"}`))
	assert.Equal(t, failed, r)
	assert.Equal(t, model.KindStatusMismatch, model.KindOf(err))

	r, err = classify(http.StatusForbidden, []byte(`{"error":"forbidden"}`))
	assert.Equal(t, failed, r)
	assert.Equal(t, model.KindAuthChallenged, model.KindOf(err))
}

func TestRun_IdempotentAgainstDemo(t *testing.T) {
	sess, target := adminSession(t)
	f, err := DefaultFixtures()
	require.NoError(t, err)
	s := New(target, sess, Config{Timeout: 2 * time.Second, Retry: webclient.RetryPolicy{Attempts: 1}}, nil)

	first := s.Run(context.Background(), f)
	assert.Zero(t, first.Failed, first.Errors)
	assert.Equal(t, len(f.Users)+len(f.Items), first.Created+first.Existing)
	// the starter catalog already holds all but one item
	assert.Equal(t, len(f.Users)+1, first.Created)

	second := s.Run(context.Background(), f)
	assert.Zero(t, second.Failed, second.Errors)
	assert.Zero(t, second.Created)
	assert.Equal(t, len(f.Users)+len(f.Items), second.Existing)
}

func TestRun_WithoutAdminFails(t *testing.T) {
	_, target := adminSession(t)
	wc, err := webclient.NewNetHTTPClient(webclient.Config{Timeout: 2 * time.Second}, nil, nil)
	require.NoError(t, err)
	f, err := DefaultFixtures()
	require.NoError(t, err)

	sum := New(target, wc, Config{Retry: webclient.RetryPolicy{Attempts: 1}}, nil).Run(context.Background(), f)
	assert.Equal(t, len(f.Users)+len(f.Items), sum.Failed)
	assert.Len(t, sum.Errors, sum.Failed)
}
