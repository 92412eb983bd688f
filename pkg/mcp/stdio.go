package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 30 * time.Second

// StdioTransport speaks JSON-RPC over the stdin/stdout pipes of a child
// process, one message per line. Responses are correlated back to callers
// through a pending map keyed by request id, so concurrent calls are safe.
type StdioTransport struct {
	command string
	args    []string
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	nextID  int
	pending map[int]chan *rpcResponse
	started bool
}

// NewStdioTransport creates a transport that will spawn command with args on
// Start. A timeout of zero uses the default per-call timeout.
func NewStdioTransport(command string, args []string, timeout time.Duration, logger zerolog.Logger) *StdioTransport {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &StdioTransport{
		command: command,
		args:    args,
		timeout: timeout,
		logger:  logger.With().Str("component", "mcp-stdio").Logger(),
		pending: make(map[int]chan *rpcResponse),
	}
}

// Start spawns the child process and begins reading its stdout. Idempotent.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", t.command, err)
	}

	t.process = cmd
	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	t.started = true

	go t.listen()

	t.logger.Info().Str("command", t.command).Int("pid", cmd.Process.Pid).Msg("tool process started")
	return nil
}

// listen reads responses line by line and routes them to waiting callers.
func (t *StdioTransport) listen() {
	for t.stdout.Scan() {
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Debug().Err(err).Msg("skipping non-JSON line from tool process")
			continue
		}

		id, ok := responseID(resp.ID)
		if !ok {
			// Notifications carry no id and have no waiter.
			continue
		}

		t.mu.Lock()
		ch, waiting := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()

		if waiting {
			ch <- &resp
		}
	}

	if err := t.stdout.Err(); err != nil {
		t.logger.Warn().Err(err).Msg("tool process stdout closed with error")
	}

	// Fail anyone still waiting so calls do not hang on a dead process.
	t.mu.Lock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.started = false
	t.mu.Unlock()
}

func responseID(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Call sends one request and blocks for its response, the call timeout, or
// context cancellation, whichever comes first.
func (t *StdioTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport not started")
	}

	t.nextID++
	id := t.nextID
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = t.stdin.Write(append(payload, '\n'))
	if err != nil {
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to write to tool process: %w", err)
	}
	t.mu.Unlock()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("tool process exited before responding to %s", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		t.dropPending(id)
		return nil, fmt.Errorf("timed out waiting for %s response", method)
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) dropPending(id int) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Close terminates the child process. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}
	t.started = false

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		if err := t.process.Process.Kill(); err != nil {
			return fmt.Errorf("failed to stop tool process: %w", err)
		}
		_ = t.process.Wait()
	}

	t.logger.Info().Msg("tool process stopped")
	return nil
}
