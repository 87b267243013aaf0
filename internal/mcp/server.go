// Package mcp exposes the agent as an MCP tool over streamable HTTP.
package mcp

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/ai"
	"github.com/lgesuellip/barber-booker/internal/reply"
)

const (
	ToolAgentQuery  = "agent_query"
	defaultThreadID = "mcp"
)

type Invoker interface {
	Invoke(ctx context.Context, id, userMessage string, images []ai.Image) (any, error)
}

type Server struct {
	agent   Invoker
	timeout time.Duration
	mcp     *server.MCPServer
	logger  *zap.Logger
}

func NewServer(agent Invoker, timeout time.Duration, version string, logger *zap.Logger) *Server {
	s := &Server{
		agent:   agent,
		timeout: timeout,
		logger:  logger,
	}

	s.mcp = server.NewMCPServer("barber-booker", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Forwards messages to the booking agent and returns its reply as text."),
	)
	s.mcp.AddTool(mcpgo.NewTool(ToolAgentQuery,
		mcpgo.WithDescription("Send a message to the booking agent and return its reply."),
		mcpgo.WithString("message", mcpgo.Required(), mcpgo.Description("The user message")),
		mcpgo.WithString("thread_id", mcpgo.Description("Conversation key; messages with the same key share agent memory")),
	), s.HandleAgentQuery)

	return s
}

// HandleAgentQuery forwards the message to the agent and flattens the reply
// to text. Failures are tool errors, not protocol errors.
func (s *Server) HandleAgentQuery(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	threadID := strings.TrimSpace(req.GetString("thread_id", ""))
	if threadID == "" {
		threadID = defaultThreadID
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.agent.Invoke(ctx, threadID, message, nil)
	if err != nil {
		s.logger.Warn("agent_query failed", zap.String("thread_id", threadID), zap.Error(err))
		return mcpgo.NewToolResultErrorFromErr("agent query failed", err), nil
	}
	return mcpgo.NewToolResultText(reply.TextOf(reply.Classify(raw))), nil
}

// Handler serves the MCP endpoint behind a bearer token.
func (s *Server) Handler(token string) http.Handler {
	return BearerAuth(token, server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true)))
}

// BearerAuth rejects requests whose Authorization header does not carry token.
func BearerAuth(token string, next http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
