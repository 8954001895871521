// Package control exposes a running self-heal loop over a Unix socket so CLI
// commands can drive the serving process. Each connection carries one JSON
// command and one JSON response.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/selfheal/internal/types"
)

// Command types.
const (
	CmdStatus            = "status"
	CmdDiagnose          = "diagnose"
	CmdCycle             = "cycle"
	CmdGetCycle          = "get_cycle"
	CmdHistory           = "history"
	CmdRecordIssue       = "record_issue"
	CmdClearIssues       = "clear_issues"
	CmdRefreshBuild      = "refresh_build"
	CmdRecordPerformance = "record_performance"
	CmdApplySuggestion   = "apply_suggestion"
	CmdAdvise            = "optimization_advice"
	CmdLogs              = "lpqa_logs"
)

// Command is a request sent to the serving process
type Command struct {
	Type        string                    `json:"type"`
	Context     types.Environment         `json:"context,omitempty"`     // for cycle
	CycleID     string                    `json:"cycle_id,omitempty"`    // for get_cycle
	Issue       *types.DiagnosticIssue    `json:"issue,omitempty"`       // for record_issue
	Performance *types.PerformanceMetrics `json:"performance,omitempty"` // for record_performance
	Suggestion  string                    `json:"suggestion,omitempty"`  // for apply_suggestion
	Limit       int                       `json:"limit,omitempty"`       // for lpqa_logs
	Timestamp   time.Time                 `json:"timestamp"`
}

// Response is the reply to a Command. Data holds the command-specific payload.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HandlerFunc executes one command and returns the payload to encode
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Server accepts control connections on a Unix socket
type Server struct {
	socketPath string
	listener   net.Listener
	logger     *slog.Logger
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	doneCh     chan struct{}
	conns      sync.WaitGroup

	onCommand HandlerFunc
}

// NewServer creates a control server. A stale socket left by a crashed
// process is removed.
func NewServer(socketPath string, onCommand HandlerFunc, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		onCommand:  onCommand,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("control server listening", "socket", s.socketPath)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Accept timeout lets the loop notice ctx and stop
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Warn("control: failed to set deadline", "err", err)
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("control: accept error", "err", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Bad clients must not hold a goroutine forever
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn("control: failed to set read deadline", "err", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.logger.Debug("control: failed to clear read deadline", "err", err)
	}

	resp := s.execute(ctx, cmd)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control: failed to send response", "type", cmd.Type, "err", err)
	}
}

func (s *Server) execute(ctx context.Context, cmd Command) Response {
	if s.onCommand == nil {
		return Response{Message: "No command handler registered", Error: "server misconfiguration"}
	}

	s.logger.Debug("control command", "type", cmd.Type)
	data, err := s.onCommand(ctx, cmd)
	if err != nil {
		return Response{Message: fmt.Sprintf("Command failed: %v", err), Error: err.Error()}
	}
	resp := Response{Success: true, Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{Message: "failed to encode response", Error: err.Error()}
		}
		resp.Data = raw
	}
	return resp
}

func (s *Server) sendError(conn net.Conn, message string) {
	_ = json.NewEncoder(conn).Encode(Response{Message: message, Error: message})
}

// Stop closes the listener, waits for in-flight commands and removes the
// socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		close(s.stopCh)
		if err := listener.Close(); err != nil {
			s.logger.Warn("control: error closing listener", "err", err)
		}

		select {
		case <-s.doneCh:
		case <-time.After(5 * time.Second):
			s.logger.Warn("control: timeout waiting for server shutdown")
		}
		s.conns.Wait()

		if err := os.RemoveAll(s.socketPath); err != nil {
			s.logger.Warn("control: failed to remove socket file", "err", err)
		}
		s.logger.Info("control server stopped")
	})
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
