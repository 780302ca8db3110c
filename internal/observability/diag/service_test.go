package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"topicwatch/internal/monitor"
	"topicwatch/internal/notifier"
	"topicwatch/internal/storage"
	logx "topicwatch/pkg/logx"
)

type fakeMonitor struct {
	runErr error
	runs   int
}

func (f *fakeMonitor) Status() monitor.Status {
	return monitor.Status{Enabled: true, Schedule: "@every 5m", Channels: []string{"town-square"}}
}

func (f *fakeMonitor) RunNow(context.Context) (monitor.CycleReport, error) {
	f.runs++
	rep := monitor.CycleReport{Started: time.Now(), Finished: time.Now(), Outcomes: []monitor.ChannelOutcome{
		{Channel: "town-square", Status: monitor.StatusNoMatches},
	}}
	return rep, f.runErr
}

type fakeHistory []notifier.HistoryItem

func (h fakeHistory) Snapshot() []notifier.HistoryItem { return h }

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	_ = st.AppendDelivery(context.Background(), storage.Delivery{At: time.Now(), Source: "town-square", Destination: "dm", Status: storage.DeliverySent})

	fm := &fakeMonitor{}
	hist := fakeHistory{{Source: "town-square", Destination: "dm", PostID: "n1", Posts: 1}}
	h := New(Config{Enabled: true, Token: "secret", Pprof: true}, fm, hist, st, logx.Nop()).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/status?token=wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status wrong token=%d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/status", "secret")
	var status monitor.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status.Schedule != "@every 5m" {
		t.Fatalf("status=%s err=%v", rec.Body, err)
	}

	rec = do(t, h, http.MethodPost, "/run", "secret")
	var sum monitor.CycleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil || rec.Code != http.StatusOK || sum.Skipped != 1 {
		t.Fatalf("run code=%d body=%s", rec.Code, rec.Body)
	}

	fm.runErr = fmt.Errorf("%w: channels and topics are required", monitor.ErrInvalidConfig)
	if rec := do(t, h, http.MethodPost, "/run", "secret"); rec.Code != http.StatusConflict {
		t.Fatalf("run invalid=%d", rec.Code)
	}
	fm.runErr = errors.New("refresh channel cache: down")
	if rec := do(t, h, http.MethodPost, "/run", "secret"); rec.Code != http.StatusBadGateway {
		t.Fatalf("run failed=%d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/notifications", "secret")
	var items []notifier.HistoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 1 || items[0].PostID != "n1" {
		t.Fatalf("history=%s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/audit/deliveries?limit=5", "secret")
	var ds []storage.Delivery
	if err := json.Unmarshal(rec.Body.Bytes(), &ds); err != nil || len(ds) != 1 {
		t.Fatalf("deliveries=%s", rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/audit/cycles", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("cycles=%d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/debug/pprof/", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("pprof=%d", rec.Code)
	}
}

func TestAuditWithoutStore(t *testing.T) {
	t.Parallel()
	h := New(Config{}, &fakeMonitor{}, nil, nil, logx.Nop()).Handler()
	if rec := do(t, h, http.MethodGet, "/audit/deliveries", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("code=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/notifications", ""); rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off, code=%d", rec.Code)
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cfg  Config
		fail bool
	}{
		{Config{}, false},
		{Config{Addr: "localhost:7070"}, false},
		{Config{Addr: "[::1]:7070"}, false},
		{Config{Addr: ":7070"}, true},
		{Config{Addr: "0.0.0.0:7070", Token: "t"}, false},
		{Config{Addr: "0.0.0.0:7070", AllowInsecure: true}, false},
	}
	for _, c := range cases {
		if err := CheckBind(c.cfg); (err != nil) != c.fail {
			t.Errorf("%+v: err=%v", c.cfg, err)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Config{Enabled: true}, &fakeMonitor{}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
