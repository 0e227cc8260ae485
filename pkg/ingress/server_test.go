package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamwatch/spamwatch/pkg/broker"
	"github.com/spamwatch/spamwatch/pkg/metrics"
)

func newTestServer(t *testing.T) (*Server, *broker.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := broker.NewWithClient(rdb)
	return NewServer(b, metrics.NewSet("event")), b
}

func postEvent(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleEventAppendsVerbatimBody(t *testing.T) {
	srv, b := newTestServer(t)

	body := `{"event_name":"user_create","user_id":7,"email":"m@spam.example"}`
	rec := postEvent(srv, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Event received"}`, rec.Body.String())

	msg, err := b.ReadOne(context.Background(), broker.StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "user_create", msg.Kind)
	assert.Equal(t, body, string(msg.Payload), "webhook body must be stored byte for byte")
}

func TestHandleEventClassifiesIssueWebhooks(t *testing.T) {
	srv, b := newTestServer(t)

	rec := postEvent(srv, `{"object_kind":"issue","object_attributes":{"action":"open","project_id":12,"id":3}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := b.ReadOne(context.Background(), broker.StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "issue_open", msg.Kind)
}

func TestHandleEventIgnoresUnhandledWebhooks(t *testing.T) {
	srv, b := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown event_name", `{"event_name":"project_destroy"}`},
		{"note on merge request", `{"object_kind":"note","object_attributes":{"noteable_type":"MergeRequest","created_at":"x","updated_at":"x"}}`},
		{"malformed json", `{"event_name":`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEvent(srv, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code, "unhandled events still return 200")

			n, err := b.Len(context.Background(), broker.StreamEvent)
			require.NoError(t, err)
			assert.Zero(t, n, "unhandled events must not reach the stream")
		})
	}
}

func TestHandleEventPreservesArrivalOrder(t *testing.T) {
	srv, b := newTestServer(t)

	postEvent(srv, `{"event_name":"user_create","user_id":1}`)
	postEvent(srv, `{"event_name":"group_create","group_id":9}`)

	ctx := context.Background()
	first, err := b.ReadOne(ctx, broker.StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "user_create", first.Kind)
	require.NoError(t, b.Ack(ctx, broker.StreamEvent, first.ID))

	second, err := b.ReadOne(ctx, broker.StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "group_create", second.Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	postEvent(srv, `{"event_name":"user_create"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event_service_requests_total")
}
