package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/qmodes/internal/metrics"
)

func quickBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func get(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestNewClient(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient().Timeout)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewRetryClient("test", WithBackOff(quickBackOff), WithMetrics(m))

	var out struct{ OK bool }
	require.NoError(t, c.GetJSON(context.Background(), get(srv.URL), &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPCallsTotal.WithLabelValues("test", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPCallsTotal.WithLabelValues("test", "ok")))
}

func TestDo_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such record", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRetryClient("test", WithBackOff(quickBackOff))
	_, err := c.Do(context.Background(), get(srv.URL))
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Body, "no such record")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRetryClient("flaky", WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 10)
	}))
	_, err := c.Do(context.Background(), get(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	// five consecutive failures trip the breaker
	assert.Equal(t, int32(5), calls.Load())
}

func TestDo_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewRetryClient("test", WithBackOff(quickBackOff))
	_, err := c.Do(ctx, get(srv.URL))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("netcdf bytes"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "sub", "file.nc")
	c := NewRetryClient("test", WithBackOff(quickBackOff))
	n, err := c.DownloadFile(context.Background(), get(srv.URL), path)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "netcdf bytes", string(data))
	assert.NoFileExists(t, path+".part")
}

func TestDownloadFile_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "file.nc")
	c := NewRetryClient("test", WithBackOff(quickBackOff))
	_, err := c.DownloadFile(context.Background(), get(srv.URL), path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".part")
}
