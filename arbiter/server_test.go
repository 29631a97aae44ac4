package arbiter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetrate/arbiter/observation"
	"github.com/fleetrate/arbiter/permit"
	"github.com/fleetrate/arbiter/store"
)

func newTestServer(t *testing.T, failOpen bool) (*miniredis.Miniredis, *Server) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, "ns", nil)

	limits := permit.Limits{GlobalRPS: 50, RouteRPS: 5, MinRetryMS: 50}
	evaluator := permit.NewEvaluator(s, "ns", limits, nil)
	ingester := observation.NewIngester(s, "ns", observation.DefaultConfig(), nil)

	config := Config{
		GlobalRPS:  50,
		RouteRPS:   5,
		MinRetryMS: 50,
		FailOpen:   failOpen,
	}
	srv := NewServer(config, s, evaluator, ingester, nil, false, nil)
	t.Cleanup(func() { srv.fallback.Stop() })
	return mr, srv
}

func postJSON(t *testing.T, handler func(http.ResponseWriter, *http.Request), path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleRequestToken_Grant(t *testing.T) {
	mr, srv := newTestServer(t, true)
	defer mr.Close()

	rec := postJSON(t, srv.handleRequestToken, "/request_token", PermitRequestBody{
		ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1",
		Method: "GET", Route: "/a", MajorParameter: "m",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PermitResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Granted)
	assert.Equal(t, permit.ReasonOK, resp.Reason)
}

func TestHandleRequestToken_DenyWhenGlobalExhausted(t *testing.T) {
	mr, srv := newTestServer(t, true)
	defer mr.Close()
	srv.config.GlobalRPS = 1
	srv.evaluator = permit.NewEvaluator(srv.store, "ns", permit.Limits{GlobalRPS: 1, RouteRPS: 50, MinRetryMS: 5}, nil)

	body := PermitRequestBody{ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1", Method: "GET", Route: "/a", MajorParameter: "m"}

	first := postJSON(t, srv.handleRequestToken, "/request_token", body)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp PermitResponseBody
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	assert.True(t, firstResp.Granted)

	second := postJSON(t, srv.handleRequestToken, "/request_token", body)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp PermitResponseBody
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.False(t, secondResp.Granted)
	assert.Equal(t, permit.ReasonGlobalExhausted, secondResp.Reason)
	require.NotNil(t, secondResp.RetryAfterMS)
}

func TestHandleRequestToken_FailOpenFallsBackWhenStoreDown(t *testing.T) {
	mr, srv := newTestServer(t, true)
	mr.Close() // store now unreachable; circuit breaker will trip eventually, fallback should still grant

	rec := postJSON(t, srv.handleRequestToken, "/request_token", PermitRequestBody{
		ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1", Method: "GET", Route: "/a", MajorParameter: "m",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PermitResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Granted)
	assert.Equal(t, permit.ReasonStoreUnavailable, resp.Reason)
}

func TestHandleRequestToken_FailClosedDeniesWhenStoreDown(t *testing.T) {
	mr, srv := newTestServer(t, false)
	mr.Close()

	rec := postJSON(t, srv.handleRequestToken, "/request_token", PermitRequestBody{
		ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1", Method: "GET", Route: "/a", MajorParameter: "m",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PermitResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Granted)
	assert.Equal(t, permit.ReasonStoreUnavailable, resp.Reason)
}

func TestHandleReportResult_AlwaysOK(t *testing.T) {
	mr, srv := newTestServer(t, true)
	defer mr.Close()

	status := 429
	scope := "shared"
	rec := postJSON(t, srv.handleReportResult, "/report_result", ObservationReportBody{
		ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1", Method: "GET", Route: "/a", MajorParameter: "m",
		StatusCode: status, RateLimitScope: &scope, ObservedAtUnixMS: 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReportResultResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
}

func TestHandleReportResult_OKEvenWhenIngestFails(t *testing.T) {
	mr, srv := newTestServer(t, true)
	mr.Close() // ingest will error; handler must still answer {"ok":true}

	rec := postJSON(t, srv.handleReportResult, "/report_result", ObservationReportBody{
		ClientID: "c1", GroupID: "g1", DiscordIdentity: "u1", Method: "GET", Route: "/a", MajorParameter: "m",
		StatusCode: 200, ObservedAtUnixMS: 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReportResultResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
}

func TestHandleHealthz(t *testing.T) {
	mr, srv := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec2 := httptest.NewRecorder()
	srv.handleHealthz(rec2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
