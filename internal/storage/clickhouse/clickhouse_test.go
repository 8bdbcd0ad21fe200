package clickhouse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/event"
)

// capture records everything the client sent so assertions can inspect the
// statement and headers.
type capture struct {
	query  string
	header http.Header
	body   string
	calls  int
}

func newCaptureServer(t *testing.T, status int, response string, cap *capture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		cap.query = r.URL.RawQuery
		cap.header = r.Header.Clone()
		cap.body = string(body)
		cap.calls++
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func testClient(serverURL string) *Client {
	return NewClient(Config{URL: serverURL, Database: "truesight", User: "writer", Password: "secret"})
}

func TestClientDoSendsCredentialsAndDatabase(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, "", &cap)
	defer srv.Close()

	_, err := testClient(srv.URL).Do(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", cap.body)
	require.Equal(t, "writer", cap.header.Get("X-ClickHouse-User"))
	require.Equal(t, "secret", cap.header.Get("X-ClickHouse-Key"))
	require.Contains(t, cap.query, "database=truesight")
	require.Contains(t, cap.query, "output_format_json_quote_64bit_integers=0")
}

func TestClientDoSurfacesServerErrors(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusInternalServerError, "Code: 60. DB::Exception: Table truesight.events does not exist", &cap)
	defer srv.Close()

	_, err := testClient(srv.URL).Do(context.Background(), "SELECT 1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Contains(t, err.Error(), "does not exist")
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ping", r.URL.Path)
		_, _ = w.Write([]byte("Ok.\n"))
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).Ping(context.Background()))
}

func TestClientPingRejectsUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	require.Error(t, testClient(srv.URL).Ping(context.Background()))
}

func TestEscapeString(t *testing.T) {
	require.Equal(t, `O\'Brien`, escapeString("O'Brien"))
	require.Equal(t, `a\\b`, escapeString(`a\b`))
	require.Equal(t, "plain", escapeString("plain"))
}

func TestTimestampFormatting(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589*int(time.Millisecond), time.UTC)
	require.Equal(t, "2026-03-14 09:26:53.589", formatTimestamp(ts))
	require.Equal(t, "toDateTime64(1773480413.589, 3)", timestampLiteral(ts))
}

func testEnrichedEvent() event.EnrichedEvent {
	return event.EnrichedEvent{
		EventID:         uuid.New(),
		EventName:       "Checkout Started",
		EventType:       event.TypeTrack,
		UserID:          "user-1",
		AnonymousID:     "anon-1",
		ClientTimestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Properties:      map[string]any{"cart_total": 42.5},
		Context: event.DeviceContext{
			OSName:      "iOS",
			OSVersion:   "18.2",
			DeviceModel: "iPhone16,1",
			DeviceID:    "dev-1",
			Locale:      "en_IN",
			Timezone:    "Asia/Kolkata",
			SDKVersion:  "1.4.0",
		},
		ProjectID:       uuid.New(),
		ServerTimestamp: time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC),
	}
}

func TestInsertBatchStatementShape(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, "", &cap)
	defer srv.Close()

	inserter := NewInserter(testClient(srv.URL), zap.NewNop())
	events := []event.EnrichedEvent{testEnrichedEvent(), testEnrichedEvent()}

	require.NoError(t, inserter.InsertBatch(context.Background(), events))
	require.True(t, strings.HasPrefix(cap.body, "INSERT INTO events FORMAT JSONEachRow\n"))

	lines := strings.Split(strings.TrimPrefix(cap.body, "INSERT INTO events FORMAT JSONEachRow\n"), "\n")
	require.Len(t, lines, 2)

	var row map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	require.Equal(t, events[0].EventID.String(), row["event_id"])
	require.Equal(t, "track", row["event_type"])
	require.Equal(t, "2026-03-14 09:00:00.000", row["client_timestamp"])
	require.Equal(t, "2026-03-14 09:00:01.000", row["server_timestamp"])
	require.JSONEq(t, `{"cart_total":42.5}`, row["properties"].(string))
	require.Equal(t, "iOS", row["os_name"])
	require.Equal(t, "Asia/Kolkata", row["timezone"])
}

func TestInsertBatchEmptyIsNoOp(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, "", &cap)
	defer srv.Close()

	inserter := NewInserter(testClient(srv.URL), zap.NewNop())
	require.NoError(t, inserter.InsertBatch(context.Background(), nil))
	require.Zero(t, cap.calls)
}

func TestInsertBatchRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Code: 252. DB::Exception: Too many parts"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inserter := NewInserter(testClient(srv.URL), zap.NewNop())
	require.NoError(t, inserter.InsertBatch(context.Background(), []event.EnrichedEvent{testEnrichedEvent()}))
	require.Equal(t, 2, calls)
}

func TestInsertBatchGivesUpAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inserter := NewInserter(testClient(srv.URL), zap.NewNop())
	err := inserter.InsertBatch(context.Background(), []event.EnrichedEvent{testEnrichedEvent()})
	require.Error(t, err)
	require.Equal(t, maxInsertRetries, calls)
}

func TestEventCountDecodesNumber(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, `{"cnt":12345}`+"\n", &cap)
	defer srv.Close()

	analytics := NewAnalytics(testClient(srv.URL))
	count, err := analytics.EventCount(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Equal(t, uint64(12345), count)
	require.Contains(t, cap.body, "count() AS cnt")
	require.True(t, strings.HasSuffix(cap.body, " FORMAT JSONEachRow"))
}

func TestThroughputGranularity(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, `{"timestamp":1773480360,"count":7}`+"\n", &cap)
	defer srv.Close()

	analytics := NewAnalytics(testClient(srv.URL))
	buckets, err := analytics.Throughput(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now(), "minute")
	require.NoError(t, err)
	require.Equal(t, []ThroughputBucket{{Timestamp: 1773480360, Count: 7}}, buckets)
	require.Contains(t, cap.body, "toStartOfMinute")

	_, err = analytics.Throughput(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now(), "hour")
	require.NoError(t, err)
	require.Contains(t, cap.body, "toStartOfHour")
}

func TestListEventsPaginationAndFilters(t *testing.T) {
	var cap capture
	rows := `{"event_id":"e1","project_id":"p1","event_name":"A","event_type":"track","user_id":"u","anonymous_id":"a","client_timestamp":1.5,"server_timestamp":2.5,"properties":""}` + "\n" +
		`{"event_id":"e2","project_id":"p1","event_name":"B","event_type":"track","user_id":"u","anonymous_id":"a","client_timestamp":1.5,"server_timestamp":2.5,"properties":""}` + "\n" +
		`{"event_id":"e3","project_id":"p1","event_name":"C","event_type":"track","user_id":"u","anonymous_id":"a","client_timestamp":1.5,"server_timestamp":2.5,"properties":""}` + "\n"
	srv := newCaptureServer(t, http.StatusOK, rows, &cap)
	defer srv.Close()

	analytics := NewAnalytics(testClient(srv.URL))
	events, hasMore, err := analytics.ListEvents(context.Background(), uuid.New(), EventFilter{
		From:      time.Now().Add(-time.Hour),
		To:        time.Now(),
		EventName: "O'Brien signed up",
		Page:      2,
		PerPage:   2,
	})
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Len(t, events, 2)
	require.Equal(t, "e1", events[0].EventID)
	require.Contains(t, cap.body, `event_name = 'O\'Brien signed up'`)
	require.Contains(t, cap.body, "LIMIT 3 OFFSET 2")
}

func TestFunnelLevelsQuery(t *testing.T) {
	var cap capture
	rows := `{"level":0,"users":10}` + "\n" + `{"level":1,"users":30}` + "\n" + `{"level":2,"users":20}` + "\n"
	srv := newCaptureServer(t, http.StatusOK, rows, &cap)
	defer srv.Close()

	analytics := NewAnalytics(testClient(srv.URL))
	levels, err := analytics.FunnelLevels(context.Background(), uuid.New(), 3600,
		[]string{"Signup", "Checkout"}, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Equal(t, []FunnelLevel{{Level: 0, Users: 10}, {Level: 1, Users: 30}, {Level: 2, Users: 20}}, levels)
	require.Contains(t, cap.body, "windowFunnel(3600)(server_timestamp, event_name = 'Signup', event_name = 'Checkout')")
	require.Contains(t, cap.body, "COALESCE(NULLIF(user_id, ''), anonymous_id) AS user_uid")
	require.Contains(t, cap.body, "event_name IN ('Signup', 'Checkout')")
}

func TestUpsertIdentity(t *testing.T) {
	var cap capture
	srv := newCaptureServer(t, http.StatusOK, "", &cap)
	defer srv.Close()

	client := testClient(srv.URL)

	ev := testEnrichedEvent()
	ev.EventType = event.TypeIdentify
	ev.UserID = "user's id"
	require.NoError(t, UpsertIdentity(context.Background(), client, ev))
	require.Contains(t, cap.body, "INSERT INTO user_identity_map")
	require.Contains(t, cap.body, `'user\'s id'`)
	require.Contains(t, cap.body, "'2026-03-14 09:00:01.000'")

	// Track events and identify events without a user are skipped.
	cap.calls = 0
	ev.EventType = event.TypeTrack
	require.NoError(t, UpsertIdentity(context.Background(), client, ev))
	ev.EventType = event.TypeIdentify
	ev.UserID = ""
	require.NoError(t, UpsertIdentity(context.Background(), client, ev))
	require.Zero(t, cap.calls)
}
