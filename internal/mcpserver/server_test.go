package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"topicwatch/internal/monitor"
	logx "topicwatch/pkg/logx"
)

type fakeMonitor struct {
	mu       sync.Mutex
	running  bool
	startErr error
	runErr   error
	runs     int
	startCtx context.Context
}

func (f *fakeMonitor) RunNow(ctx context.Context) (monitor.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	now := time.Now()
	rep := monitor.CycleReport{
		Started:  now.Add(-time.Second),
		Finished: now,
		Outcomes: []monitor.ChannelOutcome{
			{Channel: "town-square", Status: monitor.StatusNotified, Fetched: 3, Relevant: 1, PostID: "n1"},
			{Channel: "ghost", Status: monitor.StatusUnknownChannel},
		},
	}
	return rep, f.runErr
}

func (f *fakeMonitor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCtx = ctx
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeMonitor) Status() monitor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.Status{
		Enabled:  true,
		Running:  f.running,
		Schedule: "*/5 * * * *",
		Channels: []string{"town-square"},
		Topics:   []string{"release"},
		Identity: monitor.Identity{Username: "alice", NotificationChannelID: "dm1"},
	}
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	if _, err := s.MCP().Connect(ctx, st, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call[T any](t *testing.T, cs *mcp.ClientSession, tool string) T {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: tool, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool %s: %v", tool, err)
	}
	if res.IsError {
		t.Fatalf("tool %s returned error result: %+v", tool, res.Content)
	}
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return out
}

func TestToolsListed(t *testing.T) {
	cs := connect(t, New("topicwatch", "", &fakeMonitor{}, logx.Nop()))
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{ToolRunMonitoring: false, ToolStatus: false, ToolStart: false, ToolStop: false}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestRunTool(t *testing.T) {
	fm := &fakeMonitor{}
	cs := connect(t, New("topicwatch", "v1", fm, logx.Nop()))

	out := call[RunOutput](t, cs, ToolRunMonitoring)
	if !out.Success || out.Notified != 1 || out.Skipped != 1 || len(out.Outcomes) != 2 {
		t.Fatalf("out=%+v", out)
	}
	if out.Outcomes[0].PostID != "n1" || out.Outcomes[1].Status != string(monitor.StatusUnknownChannel) {
		t.Fatalf("outcomes=%+v", out.Outcomes)
	}

	fm.mu.Lock()
	fm.runErr = errors.New("refresh channel cache: boom")
	fm.mu.Unlock()
	out = call[RunOutput](t, cs, ToolRunMonitoring)
	if out.Success || out.Error == "" {
		t.Fatalf("expected failure, out=%+v", out)
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.runs != 2 {
		t.Fatalf("runs=%d", fm.runs)
	}
}

func TestStartStopStatusTools(t *testing.T) {
	fm := &fakeMonitor{}
	s := New("topicwatch", "v1", fm, logx.Nop())
	cs := connect(t, s)

	st := call[StatusOutput](t, cs, ToolStatus)
	if st.Running || st.Username != "alice" || st.NotificationChannelID != "dm1" {
		t.Fatalf("status=%+v", st)
	}

	tg := call[ToggleOutput](t, cs, ToolStart)
	if !tg.Success || !tg.Running {
		t.Fatalf("start=%+v", tg)
	}
	// The schedule must not be bound to the request context.
	fm.mu.Lock()
	startCtx := fm.startCtx
	fm.mu.Unlock()
	if startCtx == nil || startCtx.Err() != nil {
		t.Fatalf("start ctx should stay alive after the call")
	}
	if st := call[StatusOutput](t, cs, ToolStatus); !st.Running {
		t.Fatalf("status after start=%+v", st)
	}

	tg = call[ToggleOutput](t, cs, ToolStop)
	if !tg.Success || tg.Running {
		t.Fatalf("stop=%+v", tg)
	}

	fm.mu.Lock()
	fm.startErr = monitor.ErrDisabled
	fm.mu.Unlock()
	tg = call[ToggleOutput](t, cs, ToolStart)
	if tg.Success || tg.Error == "" {
		t.Fatalf("disabled start=%+v", tg)
	}
}
