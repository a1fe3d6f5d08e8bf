package webclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

type flakyDoer struct {
	calls int
	errs  []error
}

func (f *flakyDoer) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return &webclient.Response{StatusCode: 200, Request: req}, nil
}

func fastPolicy() webclient.RetryPolicy {
	return webclient.RetryPolicy{Attempts: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDoWithRetry_TransportErrorRetriedOnce(t *testing.T) {
	t.Parallel()
	d := &flakyDoer{errs: []error{errors.New("connection reset")}}
	resp, attempts, err := webclient.DoWithRetry(context.Background(), d,
		&webclient.Request{Method: "POST", URL: "http://x"}, time.Second, fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, attempts)
}

func TestDoWithRetry_GivesUpAfterSecondFailure(t *testing.T) {
	t.Parallel()
	d := &flakyDoer{errs: []error{errors.New("refused"), errors.New("refused"), nil}}
	_, attempts, err := webclient.DoWithRetry(context.Background(), d,
		&webclient.Request{Method: "GET", URL: "http://x"}, time.Second, fastPolicy())
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, model.KindTransportError, model.KindOf(err))
}

func TestDoWithRetry_TimeoutOnlyRetriedWhenIdempotent(t *testing.T) {
	t.Parallel()
	timeoutErr := context.DeadlineExceeded

	get := &flakyDoer{errs: []error{timeoutErr}}
	_, attempts, err := webclient.DoWithRetry(context.Background(), get,
		&webclient.Request{Method: "GET", URL: "http://x"}, time.Second, fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	post := &flakyDoer{errs: []error{timeoutErr}}
	_, attempts, err = webclient.DoWithRetry(context.Background(), post,
		&webclient.Request{Method: "POST", URL: "http://x"}, time.Second, fastPolicy())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, model.KindTimeout, model.KindOf(err))
}

func TestRetryPolicy_DefaultCapsBackoff(t *testing.T) {
	t.Parallel()
	p := webclient.DefaultRetryPolicy()
	assert.Equal(t, 2, p.Attempts)
	assert.LessOrEqual(t, p.Backoff, p.MaxBackoff)
	assert.Equal(t, 2*time.Second, p.MaxBackoff)
}
