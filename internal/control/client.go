package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

// DefaultTimeout bounds a command round trip. Cycles use CycleTimeout.
const DefaultTimeout = 10 * time.Second

// ErrNotServing is returned when no process is listening on the socket.
var ErrNotServing = errors.New("selfheal serve is not running")

// Client sends control commands to a serving process
type Client struct {
	socketPath   string
	timeout      time.Duration
	cycleTimeout time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath:   socketPath,
		timeout:      DefaultTimeout,
		cycleTimeout: orchestrator.DefaultDeadline + DefaultTimeout,
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SetCycleTimeout sets the timeout for cycle commands. It should exceed the
// server's cycle deadline.
func (c *Client) SetCycleTimeout(timeout time.Duration) {
	c.cycleTimeout = timeout
}

// SendCommand sends a command and waits for the response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	return c.send(cmd, c.timeout)
}

func (c *Client) send(cmd Command, timeout time.Duration) (*Response, error) {
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	conn, err := net.DialTimeout("unix", c.socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotServing, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// call sends cmd and decodes the payload of a successful response into out
func call[T any](c *Client, cmd Command, timeout time.Duration) (*T, error) {
	resp, err := c.send(cmd, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s: %s", cmd.Type, resp.Error)
	}
	var out T
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", cmd.Type, err)
		}
	}
	return &out, nil
}

// Status requests the loop status
func (c *Client) Status() (*orchestrator.Status, error) {
	return call[orchestrator.Status](c, Command{Type: CmdStatus}, c.timeout)
}

// Diagnose runs diagnostics on the serving process
func (c *Client) Diagnose() (*types.DiagnosticReport, error) {
	return call[types.DiagnosticReport](c, Command{Type: CmdDiagnose}, c.timeout)
}

// RunCycle runs one self-heal cycle and returns its terminal record
func (c *Client) RunCycle(env types.Environment) (*types.SelfHealCycle, error) {
	return call[types.SelfHealCycle](c, Command{Type: CmdCycle, Context: env}, c.cycleTimeout)
}

// GetCycle fetches one cycle by ID
func (c *Client) GetCycle(id string) (*types.SelfHealCycle, error) {
	return call[types.SelfHealCycle](c, Command{Type: CmdGetCycle, CycleID: id}, c.timeout)
}

// History fetches every retained cycle, oldest first
func (c *Client) History() ([]types.SelfHealCycle, error) {
	out, err := call[[]types.SelfHealCycle](c, Command{Type: CmdHistory}, c.timeout)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// RecordIssue submits an observation to the serving process
func (c *Client) RecordIssue(issue *types.DiagnosticIssue) error {
	_, err := call[struct{}](c, Command{Type: CmdRecordIssue, Issue: issue}, c.timeout)
	return err
}

// ClearIssues empties the serving process's issue store
func (c *Client) ClearIssues() error {
	_, err := call[struct{}](c, Command{Type: CmdClearIssues}, c.timeout)
	return err
}

// RefreshBuild asks the serving process to re-query build identifiers
func (c *Client) RefreshBuild() (*orchestrator.BuildInfo, error) {
	return call[orchestrator.BuildInfo](c, Command{Type: CmdRefreshBuild}, c.cycleTimeout)
}

// RecordPerformance submits a performance sample
func (c *Client) RecordPerformance(m types.PerformanceMetrics) error {
	_, err := call[struct{}](c, Command{Type: CmdRecordPerformance, Performance: &m}, c.timeout)
	return err
}

// ApplySuggestion marks a logged optimization suggestion as applied
func (c *Client) ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error) {
	return call[types.OptimizationSuggestion](c, Command{Type: CmdApplySuggestion, Suggestion: suggestion}, c.timeout)
}

// Advise asks the serving process for advice on its current suggestions.
func (c *Client) Advise() (*orchestrator.Advice, error) {
	return call[orchestrator.Advice](c, Command{Type: CmdAdvise}, c.cycleTimeout)
}

// FetchLogs returns the authority's recent QA log lines
func (c *Client) FetchLogs(limit int) (json.RawMessage, error) {
	out, err := call[json.RawMessage](c, Command{Type: CmdLogs, Limit: limit}, c.cycleTimeout)
	if err != nil {
		return nil, err
	}
	return *out, nil
}
