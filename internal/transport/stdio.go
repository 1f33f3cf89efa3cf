package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-client/internal/logging"
)

const (
	// maxLineSize bounds a single newline-framed message.
	maxLineSize = 8 << 20

	// terminateGrace is how long Close waits for the child after SIGTERM.
	terminateGrace = 2 * time.Second
)

// StdioConfig describes a server subprocess. The child starts with an empty
// environment; only Env is set.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	Logger  *logging.Logger
}

// Validate checks the configuration.
func (c StdioConfig) Validate() error {
	if c.Command == "" {
		return errors.New("stdio transport requires a command")
	}
	return nil
}

// Stdio runs an MCP server as a child process and exchanges newline-framed
// messages over its stdin and stdout. Stderr lines are surfaced as
// diagnostics.
type Stdio struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *logging.Logger

	outgoing    chan []byte
	incoming    chan []byte
	diagnostics chan string
	done        chan struct{}
	exited      chan struct{}

	readers   sync.WaitGroup
	closeOnce sync.Once
	waitErr   error
}

// NewStdio starts the subprocess described by cfg.
func NewStdio(cfg StdioConfig) (*Stdio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = buildEnv(cfg.Env)
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}
	cfg.Logger.Debug("Started server process %s (pid %d)", cfg.Command, cmd.Process.Pid)

	s := &Stdio{
		cmd:         cmd,
		stdin:       stdin,
		logger:      cfg.Logger,
		outgoing:    make(chan []byte),
		incoming:    make(chan []byte, receiveBuffer),
		diagnostics: make(chan string, diagnosticsBuffer),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}

	s.readers.Add(2)
	go s.writeLoop()
	go s.readLoop(stdout)
	go s.stderrLoop(stderr)
	go s.wait()

	return s, nil
}

// buildEnv renders env in a stable order. The result is never nil so the
// child does not inherit the parent environment.
func buildEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Send queues msg for the writer goroutine.
func (s *Stdio) Send(ctx context.Context, msg []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.outgoing <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-s.exited:
		return fmt.Errorf("server process exited: %w", ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Transport.
func (s *Stdio) Receive() <-chan []byte { return s.incoming }

// Diagnostics implements Transport.
func (s *Stdio) Diagnostics() <-chan string { return s.diagnostics }

func (s *Stdio) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outgoing:
			line := make([]byte, 0, len(msg)+1)
			line = append(line, msg...)
			line = append(line, '\n')
			if _, err := s.stdin.Write(line); err != nil {
				s.logger.Warning("Failed to write to server stdin: %v", err)
				return
			}
		}
	}
}

func (s *Stdio) readLoop(stdout io.Reader) {
	defer s.readers.Done()
	defer close(s.incoming)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg := append([]byte(nil), line...)
		select {
		case s.incoming <- msg:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warning("Server stdout read failed: %v", err)
	}
}

func (s *Stdio) stderrLoop(stderr io.Reader) {
	defer s.readers.Done()
	defer close(s.diagnostics)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug("[server stderr] %s", line)
		select {
		case s.diagnostics <- line:
		default:
			// Nobody is draining diagnostics; the line was already logged.
		}
	}
}

func (s *Stdio) wait() {
	s.readers.Wait()
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

// Close signals the child to terminate and waits briefly for it to exit.
// Failures are logged rather than returned.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.stdin.Close(); err != nil {
			s.logger.Debug("Closing server stdin: %v", err)
		}

		select {
		case <-s.exited:
			return
		default:
		}

		if err := terminate(s.cmd.Process); err != nil {
			s.logger.Debug("Failed to signal server process: %v", err)
		}
		select {
		case <-s.exited:
		case <-time.After(terminateGrace):
			s.logger.Warning("Server process did not exit after %s, killing it", terminateGrace)
			if err := s.cmd.Process.Kill(); err != nil {
				s.logger.Warning("Failed to kill server process: %v", err)
			}
			select {
			case <-s.exited:
			case <-time.After(terminateGrace):
				s.logger.Warning("Server process output pipes still open after kill")
				return
			}
		}
		if s.waitErr != nil {
			s.logger.Debug("Server process exited: %v", s.waitErr)
		}
	})
	return nil
}
