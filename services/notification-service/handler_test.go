package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/notify"

	"github.com/golang-jwt/jwt/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newHandler() *notificationHandler {
	return &notificationHandler{hub: notify.NewHub(nil), secret: testSecret, log: zap.NewNop()}
}

func readData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		for {
			s, err := r.ReadString('\n')
			if err != nil || strings.HasPrefix(s, "data: ") {
				ch <- line{strings.TrimSpace(strings.TrimPrefix(s, "data: ")), err}
				return
			}
		}
	}()
	select {
	case l := <-ch:
		if l.err != nil {
			t.Fatalf("read stream: %v", l.err)
		}
		return l.s
	case <-time.After(2 * time.Second):
		t.Fatal("no event on stream")
		return ""
	}
}

func TestSubscribeStreamsOwnStatusUpdates(t *testing.T) {
	h := newHandler()
	srv := httptest.NewServer(newRouter(h))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/notifications/subscribe?token=" + token(t, "u1", "citizen"))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body := bufio.NewReader(res.Body)
	if first := readData(t, body); !strings.Contains(first, `"connected"`) {
		t.Fatalf("first event = %s", first)
	}

	h.hub.Broadcast(notify.Event{ID: "x", ReportID: "r-other", Type: notify.EventStatusUpdate, UserID: "u2"})
	h.hub.Broadcast(notify.Event{ID: "y", ReportID: "r1", Type: notify.EventStatusUpdate, UserID: "u1", Status: "termine"})

	var ev notify.Event
	if err := json.Unmarshal([]byte(readData(t, body)), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ReportID != "r1" || ev.Status != "termine" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	h := newHandler()
	router := newRouter(h)

	for _, path := range []string{"/notifications/subscribe", "/subscribe?token=garbage"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
	if h.hub.Len() != 0 {
		t.Errorf("rejected subscriber registered")
	}
}

func TestDeliverBroadcasts(t *testing.T) {
	h := newHandler()
	admin := h.hub.Register("a1", "admin")

	body, _ := json.Marshal(notify.Event{ID: "e1", ReportID: "r9", Type: notify.EventNewReport})
	if err := h.deliver(amqp.Delivery{Body: body}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-admin.Send:
		if ev.ReportID != "r9" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("admin did not receive the new report")
	}

	if err := h.deliver(amqp.Delivery{Body: []byte("{")}); err == nil {
		t.Error("malformed message should fail")
	}
}

func TestHealthReportsClients(t *testing.T) {
	h := newHandler()
	h.hub.Register("u1", "citizen")

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["connected_clients"] != float64(1) {
		t.Errorf("health = %v", body)
	}
}
