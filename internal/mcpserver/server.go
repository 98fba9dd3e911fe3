// Package mcpserver exposes the bridge to the calling assistant as MCP
// tools over stdio: outbound notifications, approval prompts with bounded
// polling, inbound command drainage and away-mode control.
package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/co8/afkbridge/internal/afk"
	"github.com/co8/afkbridge/internal/approval"
	"github.com/co8/afkbridge/internal/batcher"
	"github.com/co8/afkbridge/internal/listener"
	"github.com/co8/afkbridge/internal/storage"
	"github.com/co8/afkbridge/pkg/logx"
)

type Server struct {
	server *mcp.Server

	batcher  *batcher.Batcher
	approval *approval.Coordinator
	listener *listener.Listener
	afk      *afk.Machine
	store    storage.Store
	log      logx.Logger
}

func New(b *batcher.Batcher, c *approval.Coordinator, l *listener.Listener, m *afk.Machine, st storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "afkbridge",
		Version: "v1.0.0",
	}, nil)

	s := &Server{
		server:   srv,
		batcher:  b,
		approval: c,
		listener: l,
		afk:      m,
		store:    st,
		log:      log,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a notification to the user's chat. Priority high is delivered immediately; normal/low is coalesced into the current batch window.",
	}, s.handleSendMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_approval_request",
		Description: "Send an approval prompt with choice buttons to the user's chat. Returns an approval_id to poll with poll_response.",
	}, s.handleSendApprovalRequest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "poll_response",
		Description: "Wait up to timeout_seconds for the user to answer an approval request (button press or free-text reply).",
	}, s.handlePollResponse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "batch_notifications",
		Description: "Queue several notifications at once; they are coalesced and delivered as a single message.",
	}, s.handleBatchNotifications)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_pending_commands",
		Description: "Drain inbound commands the user sent from the chat while away mode was active.",
	}, s.handleGetPendingCommands)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "afk_status",
		Description: "Report away-mode state, enable time and inbound queue depth.",
	}, s.handleAFKStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "afk_set",
		Description: "Enable or disable away mode. Enabling starts relaying inbound chat messages as pending commands.",
	}, s.handleAFKSet)
}

func (s *Server) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

// ---- send_message ----

type SendMessageInput struct {
	Text     string `json:"text" jsonschema:"The notification text"`
	Priority string `json:"priority,omitempty" jsonschema:"low | normal | high (default normal)"`
}

type SendMessageOutput struct {
	Success bool `json:"success"`
	// MessageID is set when the message was delivered before returning
	// (high priority); queued messages have no chat message yet.
	MessageID int    `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleSendMessage(ctx context.Context, req *mcp.CallToolRequest, in SendMessageInput) (*mcp.CallToolResult, SendMessageOutput, error) {
	ref, err := s.batcher.Add(ctx, in.Text, batcher.ParsePriority(in.Priority))
	s.audit(ctx, storage.AuditEntry{Kind: "send", MessageID: ref.MessageID, Text: in.Text, OK: err == nil, Error: errStr(err)})
	if err != nil {
		return nil, SendMessageOutput{Error: err.Error()}, nil
	}
	return nil, SendMessageOutput{Success: true, MessageID: ref.MessageID}, nil
}

// ---- send_approval_request ----

type ApprovalOptionInput struct {
	Label       string `json:"label" jsonschema:"Button label, also the value returned on selection"`
	Description string `json:"description,omitempty" jsonschema:"Longer explanation shown in the prompt body"`
}

type SendApprovalRequestInput struct {
	Question string                `json:"question" jsonschema:"The question to ask"`
	Options  []ApprovalOptionInput `json:"options" jsonschema:"Ordered list of choices"`
	Header   string                `json:"header,omitempty" jsonschema:"Optional header line above the question"`
}

type SendApprovalRequestOutput struct {
	ApprovalID string `json:"approval_id,omitempty"`
	MessageID  int    `json:"message_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleSendApprovalRequest(ctx context.Context, req *mcp.CallToolRequest, in SendApprovalRequestInput) (*mcp.CallToolResult, SendApprovalRequestOutput, error) {
	opts := make([]approval.Option, len(in.Options))
	for i, o := range in.Options {
		opts[i] = approval.Option{Label: o.Label, Description: o.Description}
	}
	id, msgID, err := s.approval.Request(ctx, in.Question, opts, in.Header)
	s.audit(ctx, storage.AuditEntry{Kind: "approval.request", ApprovalID: id, MessageID: msgID, Text: in.Question, OK: err == nil, Error: errStr(err)})
	if err != nil {
		return nil, SendApprovalRequestOutput{Error: err.Error()}, nil
	}
	return nil, SendApprovalRequestOutput{ApprovalID: id, MessageID: msgID}, nil
}

// ---- poll_response ----

type PollResponseInput struct {
	ApprovalID     string  `json:"approval_id" jsonschema:"Id returned by send_approval_request"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" jsonschema:"How long to wait (default 300)"`
}

type PollResponseOutput struct {
	Selected       *string `json:"selected"`
	CustomText     string  `json:"custom_text,omitempty"`
	TimedOut       bool    `json:"timed_out"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
}

func (s *Server) handlePollResponse(ctx context.Context, req *mcp.CallToolRequest, in PollResponseInput) (*mcp.CallToolResult, PollResponseOutput, error) {
	timeout := time.Duration(in.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	res, err := s.approval.Poll(ctx, in.ApprovalID, timeout)
	if err != nil {
		s.audit(ctx, storage.AuditEntry{Kind: "approval.resolve", ApprovalID: in.ApprovalID, OK: false, Error: err.Error()})
		return nil, PollResponseOutput{Error: err.Error()}, nil
	}

	out := PollResponseOutput{
		CustomText:     res.CustomText,
		TimedOut:       res.TimedOut,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
	if res.Selected != "" {
		out.Selected = &res.Selected
	}
	s.audit(ctx, storage.AuditEntry{Kind: "approval.resolve", ApprovalID: in.ApprovalID, Text: res.Selected, OK: true})
	return nil, out, nil
}

// ---- batch_notifications ----

type BatchMessageInput struct {
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
}

type BatchNotificationsInput struct {
	Messages []BatchMessageInput `json:"messages"`
}

type BatchNotificationsOutput struct {
	Success      bool   `json:"success"`
	BatchedCount int    `json:"batched_count"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleBatchNotifications(ctx context.Context, req *mcp.CallToolRequest, in BatchNotificationsInput) (*mcp.CallToolResult, BatchNotificationsOutput, error) {
	count := 0
	for _, m := range in.Messages {
		if _, err := s.batcher.Add(ctx, m.Text, batcher.ParsePriority(m.Priority)); err != nil {
			return nil, BatchNotificationsOutput{BatchedCount: count, Error: err.Error()}, nil
		}
		count++
	}
	return nil, BatchNotificationsOutput{Success: true, BatchedCount: count}, nil
}

// ---- get_pending_commands ----

type GetPendingCommandsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum commands to drain (default all)"`
}

type PendingCommand struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Sender     string `json:"sender,omitempty"`
	ReceivedAt string `json:"received_at"`
}

type GetPendingCommandsOutput struct {
	Commands  []PendingCommand `json:"commands"`
	Remaining int              `json:"remaining"`
}

func (s *Server) handleGetPendingCommands(ctx context.Context, req *mcp.CallToolRequest, in GetPendingCommandsInput) (*mcp.CallToolResult, GetPendingCommandsOutput, error) {
	cmds, remaining := s.listener.Drain(in.Limit)
	out := GetPendingCommandsOutput{Remaining: remaining, Commands: make([]PendingCommand, len(cmds))}
	for i, c := range cmds {
		out.Commands[i] = PendingCommand{
			ID:         c.ID,
			Text:       c.Text,
			Sender:     c.Sender,
			ReceivedAt: c.ReceivedAt.Format(time.RFC3339),
		}
		s.audit(ctx, storage.AuditEntry{Kind: "command", ChatID: c.ChatID, Text: c.Text, OK: true})
	}
	return nil, out, nil
}

// ---- afk_status ----

type AFKStatusInput struct{}

type AFKStatusOutput struct {
	Enabled    bool   `json:"enabled"`
	Since      string `json:"since,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Listening  bool   `json:"listening"`
}

func (s *Server) handleAFKStatus(ctx context.Context, req *mcp.CallToolRequest, in AFKStatusInput) (*mcp.CallToolResult, AFKStatusOutput, error) {
	st := s.listener.Status()
	out := AFKStatusOutput{
		Enabled:    s.afk.Enabled(),
		QueueDepth: st.QueueDepth,
		Listening:  st.Listening,
	}
	if since, ok := s.afk.Since(); ok {
		out.Since = since.Format(time.RFC3339)
	}
	return nil, out, nil
}

// ---- afk_set ----

type AFKSetInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to enable away mode, false to disable"`
}

type AFKSetOutput struct {
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleAFKSet(ctx context.Context, req *mcp.CallToolRequest, in AFKSetInput) (*mcp.CallToolResult, AFKSetOutput, error) {
	var err error
	if in.Enabled {
		err = s.afk.Enable(ctx)
	} else {
		err = s.afk.Disable(ctx)
	}
	s.audit(ctx, storage.AuditEntry{Kind: "afk", Text: map[bool]string{true: "enable", false: "disable"}[in.Enabled], OK: err == nil, Error: errStr(err)})
	if err != nil {
		return nil, AFKSetOutput{Enabled: s.afk.Enabled(), Error: err.Error()}, nil
	}
	return nil, AFKSetOutput{Enabled: s.afk.Enabled()}, nil
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
