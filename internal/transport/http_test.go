package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/mocks"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()
	return NewHTTPServer(zaptest.NewLogger(t), &HTTPConfig{
		BindAddr:     "127.0.0.1:0",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, false)
}

func TestHTTPServer_NextIDsAndDecode(t *testing.T) {
	gen, err := snowflake.New(77)
	require.NoError(t, err)
	svc := idservice.New(zaptest.NewLogger(t), idservice.Config{MaxBatch: 10}, gen, false)
	router := newTestHTTPServer(t).router(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ids?count=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp idsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.IDs, 3)
	assert.Equal(t, int64(77), resp.NodeID)

	var prev int64
	for _, raw := range resp.IDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ids/"+resp.IDs[0], nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded decodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, resp.IDs[0], decoded.ID)
	assert.Equal(t, int64(77), decoded.NodeID)
	assert.Equal(t, int64(0), decoded.Sequence)
	assert.InDelta(t, time.Now().UnixMilli(), decoded.TimestampMs, 5000)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ids", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.IDs, 1)
}

func TestHTTPServer_BadRequests(t *testing.T) {
	gen, err := snowflake.New(1)
	require.NoError(t, err)
	svc := idservice.New(zaptest.NewLogger(t), idservice.Config{MaxBatch: 10}, gen, false)
	router := newTestHTTPServer(t).router(svc)

	tests := []struct {
		name   string
		method string
		target string
		code   int
	}{
		{name: "count not a number", method: http.MethodPost, target: "/v1/ids?count=abc", code: http.StatusBadRequest},
		{name: "count zero", method: http.MethodPost, target: "/v1/ids?count=0", code: http.StatusBadRequest},
		{name: "count above max", method: http.MethodPost, target: "/v1/ids?count=11", code: http.StatusBadRequest},
		{name: "id not a number", method: http.MethodGet, target: "/v1/ids/abc", code: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, target: "/v1/ids", code: http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestHTTPServer_ClockRegression(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mocks.NewMockService(ctrl)
	m.EXPECT().NextIDs(gomock.Any(), 2).Return(nil, &snowflake.ClockRegressionError{Last: 100, Now: 90})

	router := newTestHTTPServer(t).router(m)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ids?count=2", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "10 ms")
}

func TestHTTPServer_Health(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mocks.NewMockService(ctrl)
	m.EXPECT().NodeID().Return(int64(12))

	router := newTestHTTPServer(t).router(m)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","node_id":12}`, rec.Body.String())
}

func TestHTTPServer_RequestID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mocks.NewMockService(ctrl)
	m.EXPECT().NodeID().Return(int64(1)).Times(2)
	router := newTestHTTPServer(t).router(m)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, err := uuid.Parse(rec.Header().Get(HeaderRequestID))
	assert.NoError(t, err, "generated request id is a uuid")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}
