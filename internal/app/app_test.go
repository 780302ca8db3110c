package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"topicwatch/internal/config"
	"topicwatch/internal/monitor"
	"topicwatch/internal/storage"
)

type fakeServer struct {
	mu    sync.Mutex
	posts []map[string]any
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/teams/team1/channels":
			_, _ = w.Write([]byte(`[{"id":"c1","name":"town-square","type":"O"},{"id":"c2","name":"dev","type":"O"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/channels/c1/posts":
			_, _ = w.Write([]byte(`{"order":["p2","p1"],"posts":{` +
				`"p1":{"id":"p1","channel_id":"c1","message":"Release notes are out","create_at":1},` +
				`"p2":{"id":"p2","channel_id":"c1","message":"lunch?","create_at":2}}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/channels/c2/posts":
			_, _ = w.Write([]byte(`{"order":[],"posts":{}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v4/posts":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode post: %v", err)
			}
			f.mu.Lock()
			f.posts = append(f.posts, body)
			id := fmt.Sprintf("n%d", len(f.posts))
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"id":"` + id + `","channel_id":"` + fmt.Sprint(body["channel_id"]) + `"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func writeConfig(t *testing.T, url string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "topicwatch.db")
	cfg := map[string]any{
		"mattermost": map[string]any{"url": url, "token": "tok", "team_id": "team1", "rate_per_sec": 100},
		"logging":    map[string]any{"level": "error", "console": false},
		"monitoring": map[string]any{
			"enabled":                 false,
			"schedule":                "@every 1h",
			"channels":                []string{"town-square", "dev", "ghost"},
			"topics":                  []string{"release"},
			"user_id":                 "u1",
			"username":                "alice",
			"notification_channel_id": "dm1",
		},
		"storage": map[string]any{"driver": "file", "path": auditPath},
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p, auditPath
}

func TestRunOnceEndToEnd(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	path, _ := writeConfig(t, srv.URL)
	a, err := NewApp(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx := context.Background()
	rep, err := a.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if o, _ := rep.Outcome("town-square"); o.Status != monitor.StatusNotified || o.Relevant != 1 {
		t.Fatalf("town-square=%+v", o)
	}
	if o, _ := rep.Outcome("dev"); o.Status != monitor.StatusNoPosts {
		t.Fatalf("dev=%+v", o)
	}
	if o, _ := rep.Outcome("ghost"); o.Status != monitor.StatusUnknownChannel {
		t.Fatalf("ghost=%+v", o)
	}

	fs.mu.Lock()
	posts := append([]map[string]any(nil), fs.posts...)
	fs.mu.Unlock()
	if len(posts) != 1 || posts[0]["channel_id"] != "dm1" || !strings.Contains(fmt.Sprint(posts[0]["message"]), "@alice") {
		t.Fatalf("posts=%+v", posts)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ds, _ := a.store.RecentDeliveries(ctx, 10)
		cs, _ := a.store.RecentCycles(ctx, 10)
		if len(ds) == 1 && len(cs) == 1 {
			if ds[0].Status != storage.DeliverySent || ds[0].Source != "town-square" {
				t.Fatalf("delivery=%+v", ds[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit not written: deliveries=%d cycles=%d", len(ds), len(cs))
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartWithDisabledMonitoring(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler(t))
	defer srv.Close()

	path, _ := writeConfig(t, srv.URL)
	a, err := NewApp(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Monitor().IsRunning() {
		t.Fatalf("disabled monitoring must not be scheduled")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Err() != nil {
		t.Fatalf("Err=%v", a.Err())
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(`{"mattermost":{"url":"http://x"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewApp(Options{ConfigPath: p}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyConfigNotifiesSystemdReload(t *testing.T) {
	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "notify")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram unavailable: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	srv := httptest.NewServer((&fakeServer{}).handler(t))
	defer srv.Close()
	path, _ := writeConfig(t, srv.URL)
	a, err := NewApp(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	a.sdNotify = true

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Logging = config.LoggingConfig{Level: "warn"}
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	var got []string
	buf := make([]byte, 256)
	for len(got) < 2 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read notify socket: %v (got %v)", err, got)
		}
		got = append(got, string(buf[:n]))
	}
	if got[0] != "RELOADING=1" || got[1] != "READY=1" {
		t.Fatalf("states=%v", got)
	}
	_ = a.Stop(context.Background())
}
