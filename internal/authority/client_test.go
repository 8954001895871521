package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/types"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

type wireEnvelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func TestHTTPClientSendsEnvelope(t *testing.T) {
	var got wireEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Path, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"currentHash":"abc","deployedHash":"def","diff":"2 files"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), LPQALogsRequest{Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, KindLPQALogs, got.Type)
	assert.JSONEq(t, `{"limit":25}`, string(got.Payload))
	assert.Equal(t, KindLPQALogs, resp.Kind)
	assert.Equal(t, 200, resp.StatusCode)

	// Opaque bodies survive untouched
	assert.Contains(t, string(resp.Body), "currentHash")
}

func TestHTTPClientDecodesBuildDiff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"currentHash":"v1.2.0","deployedHash":"v1.1.0"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), BuildDiffRequest{})
	require.NoError(t, err)
	diff, err := DecodeBuildDiff(resp)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", diff.CurrentHash)
	assert.Equal(t, "v1.1.0", diff.DeployedHash)

	_, err = DecodeRepairGuidance(resp)
	assert.Error(t, err, "decoding with the wrong kind must fail")
}

func TestHTTPClientRepairGuidanceWithPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env wireEnvelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, KindRepairGuidance, env.Type)

		var payload RepairGuidanceRequest
		assert.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "req-1", payload.Request.ID)

		_, _ = w.Write([]byte(`{"accepted":true,"message":"ok","patch":{"patch_type":"ui","changed_files":["src/App.tsx"],"code_diff":"+x","priority":5,"risk_level":"low"}}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), RepairGuidanceRequest{Request: types.RepairRequest{ID: "req-1"}})
	require.NoError(t, err)
	guidance, err := DecodeRepairGuidance(resp)
	require.NoError(t, err)
	assert.True(t, guidance.Accepted)
	require.NotNil(t, guidance.Patch)
	assert.Equal(t, types.PatchUI, guidance.Patch.PatchType)
}

func TestHTTPClientClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), DeployStatusRequest{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "bad payload", statusErr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), IndexJSStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientExhaustedRetriesKeepStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), DeployStatusRequest{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestHTTPClientCircuitOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Hour
	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Retry: cfg})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Send(context.Background(), DeployStatusRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, c.CircuitState())

	_, err = c.Send(context.Background(), DeployStatusRequest{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit must not reach the server")
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 1
	c, err := NewHTTPClient(HTTPOptions{BaseURL: url, Retry: cfg})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), DeployStatusRequest{})
	assert.Error(t, err)
}

func TestNewHTTPClientRequiresURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPOptions{BaseURL: "  "})
	assert.Error(t, err)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, nil)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, nil)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetriableError(tt.err))
		})
	}
}
