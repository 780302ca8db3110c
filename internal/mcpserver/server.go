// Package mcpserver exposes the topic monitor as Model Context Protocol tools
// over stdio.
package mcpserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"topicwatch/internal/monitor"
	logx "topicwatch/pkg/logx"
)

const (
	ToolRunMonitoring = "mattermost_run_monitoring"
	ToolStatus        = "mattermost_monitoring_status"
	ToolStart         = "mattermost_monitoring_start"
	ToolStop          = "mattermost_monitoring_stop"
)

// Monitor is the subset of *monitor.Monitor the tools drive.
type Monitor interface {
	RunNow(ctx context.Context) (monitor.CycleReport, error)
	Start(ctx context.Context) error
	Stop()
	Status() monitor.Status
}

type Server struct {
	server *mcp.Server
	mon    Monitor
	log    logx.Logger

	mu      sync.Mutex
	baseCtx context.Context
}

func New(name, version string, mon Monitor, log logx.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server:  mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		mon:     mon,
		log:     log.With(logx.String("comp", "mcp")),
		baseCtx: context.Background(),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolRunMonitoring,
		Description: "Run one monitoring cycle now across all configured Mattermost channels and report what was found and notified.",
	}, s.handleRun)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Show whether scheduled monitoring is running, its schedule, monitored channels and topics, and the last cycle result.",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStart,
		Description: "Start scheduled monitoring using the configured schedule.",
	}, s.handleStart)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStop,
		Description: "Stop scheduled monitoring. A cycle already in progress finishes.",
	}, s.handleStop)
}

// Run serves the tools on stdin/stdout until ctx is done. Schedules started
// through the start tool live as long as ctx.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.log.Info("mcp server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCP returns the underlying server, e.g. to attach another transport.
func (s *Server) MCP() *mcp.Server { return s.server }

func (s *Server) base() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

type EmptyInput struct{}

type OutcomeOutput struct {
	Channel  string `json:"channel"`
	Status   string `json:"status"`
	Fetched  int    `json:"fetched"`
	Relevant int    `json:"relevant"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type RunOutput struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Started  string          `json:"started,omitempty"`
	TookMS   int64           `json:"took_ms"`
	Notified int             `json:"notified"`
	Deduped  int             `json:"deduped"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Outcomes []OutcomeOutput `json:"outcomes"`
}

func (s *Server) handleRun(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, RunOutput, error) {
	rep, err := s.mon.RunNow(ctx)
	out := summaryOutput(rep.Summary())
	if err != nil {
		s.log.Warn("manual run failed", logx.Err(err))
		out.Success = false
		out.Error = err.Error()
	}
	return nil, out, nil
}

func summaryOutput(sum monitor.CycleSummary) RunOutput {
	out := RunOutput{
		Success:  sum.Error == "",
		Error:    sum.Error,
		TookMS:   sum.Took.Milliseconds(),
		Notified: sum.Notified,
		Deduped:  sum.Deduped,
		Skipped:  sum.Skipped,
		Failed:   sum.Failed,
		Outcomes: make([]OutcomeOutput, 0, len(sum.Outcomes)),
	}
	if !sum.Started.IsZero() {
		out.Started = sum.Started.Format(time.RFC3339)
	}
	for _, o := range sum.Outcomes {
		out.Outcomes = append(out.Outcomes, OutcomeOutput{
			Channel:  o.Channel,
			Status:   string(o.Status),
			Fetched:  o.Fetched,
			Relevant: o.Relevant,
			PostID:   o.PostID,
			Error:    o.Error,
		})
	}
	return out
}

type StatusOutput struct {
	Enabled               bool       `json:"enabled"`
	Running               bool       `json:"running"`
	Schedule              string     `json:"schedule"`
	Timezone              string     `json:"timezone,omitempty"`
	Next                  string     `json:"next,omitempty"`
	Channels              []string   `json:"channels"`
	Topics                []string   `json:"topics"`
	MessageLimit          int        `json:"message_limit"`
	Username              string     `json:"username,omitempty"`
	NotificationChannelID string     `json:"notification_channel_id,omitempty"`
	CachedChannels        int        `json:"cached_channels"`
	LastCycle             *RunOutput `json:"last_cycle,omitempty"`
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, StatusOutput, error) {
	return nil, statusOutput(s.mon.Status()), nil
}

func statusOutput(st monitor.Status) StatusOutput {
	out := StatusOutput{
		Enabled:               st.Enabled,
		Running:               st.Running,
		Schedule:              st.Schedule,
		Timezone:              st.Timezone,
		Channels:              append([]string{}, st.Channels...),
		Topics:                append([]string{}, st.Topics...),
		MessageLimit:          st.MessageLimit,
		Username:              st.Identity.Username,
		NotificationChannelID: st.Identity.NotificationChannelID,
		CachedChannels:        st.CachedChannels,
	}
	if !st.Next.IsZero() {
		out.Next = st.Next.Format(time.RFC3339)
	}
	if st.LastCycle != nil {
		r := summaryOutput(*st.LastCycle)
		out.LastCycle = &r
	}
	return out
}

type ToggleOutput struct {
	Success bool   `json:"success"`
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleStart(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, ToggleOutput, error) {
	// The request context ends with the call; the schedule must outlive it.
	err := s.mon.Start(s.base())
	switch {
	case errors.Is(err, monitor.ErrDisabled):
		return nil, ToggleOutput{Success: false, Error: "monitoring is disabled in the configuration"}, nil
	case err != nil:
		s.log.Warn("start via mcp failed", logx.Err(err))
		return nil, ToggleOutput{Success: false, Error: err.Error()}, nil
	}
	st := s.mon.Status()
	return nil, ToggleOutput{Success: true, Running: st.Running, Message: "monitoring started with schedule " + st.Schedule}, nil
}

func (s *Server) handleStop(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, ToggleOutput, error) {
	s.mon.Stop()
	return nil, ToggleOutput{Success: true, Running: s.mon.Status().Running, Message: "monitoring stopped"}, nil
}
