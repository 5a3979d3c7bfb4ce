// Process adapter: spawn/send/kill/observe a hound child process over
// stdin/stdout, framed per frame.go. Grounded on the reference corpus's
// os/exec usage for invoking external child helpers (StdinPipe + a
// goroutine reader + CombinedOutput-style capture), adapted here into a
// long-lived framed pipe instead of a one-shot subprocess call.
package ipc

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/tracehound/tracehound/internal/errs"
)

// Constraints are declarative, best-effort resource limits applied to a
// spawned child. Per §9's redesign note, every field is advisory: an
// unsupported constraint on the current platform produces a log warning,
// never a startup failure.
type Constraints struct {
	MemoryCapBytes  int64
	DenyNetwork     bool
	DenyFileWrite   bool
	DenyChildSpawn  bool
}

// Handle represents one spawned hound child process.
type Handle struct {
	PID    int
	parser *StreamParser

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	mu        sync.Mutex
	onMessage func(Message)
	onExit    func(err error)

	killOnce sync.Once
}

// Adapter spawns and manages hound child processes.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter constructs an Adapter. If logger is nil, slog.Default() is
// used.
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Spawn starts scriptPath as a child process and wires its stdin/stdout
// into framed IPC. Constraints are applied where the platform allows;
// unsupported fields are logged as an advisory and never fail Spawn.
func (a *Adapter) Spawn(ctx context.Context, scriptPath string, args []string, constraints Constraints) (*Handle, *errs.Error) {
	cmd := exec.CommandContext(ctx, scriptPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.DomainProcess, errs.ProcessSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.DomainProcess, errs.ProcessSpawnFailed, err)
	}

	applyConstraints(cmd, constraints, a.logger)

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.DomainProcess, errs.ProcessSpawnFailed, err)
	}

	h := &Handle{
		PID:    cmd.Process.Pid,
		parser: NewStreamParser(),
		cmd:    cmd,
		stdin:  stdin,
		logger: a.logger,
	}

	go h.readLoop(stdout)
	go h.waitLoop()

	return h, nil
}

func (h *Handle) readLoop(stdout io.ReadCloser) {
	reader := bufio.NewReader(stdout)
	chunk := make([]byte, 64*1024)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			frames, ferr := h.parser.Feed(chunk[:n])
			if ferr != nil {
				h.logger.Error("ipc: stream parser error", slog.String("error", ferr.Error()), slog.Int("pid", h.PID))
				return
			}
			for _, payload := range frames {
				msg, merr := DecodeMessage(payload)
				if merr != nil {
					h.logger.Error("ipc: undecodable frame, killing child", slog.String("error", merr.Error()), slog.Int("pid", h.PID))
					h.Kill()
					return
				}
				h.dispatchMessage(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) dispatchMessage(msg Message) {
	h.mu.Lock()
	cb := h.onMessage
	h.mu.Unlock()
	if cb == nil {
		return
	}
	// A handler must never be able to take the whole adapter down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("ipc: onMessage callback panicked", slog.Any("panic", r), slog.Int("pid", h.PID))
			}
		}()
		cb(msg)
	}()
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	h.mu.Lock()
	cb := h.onExit
	h.mu.Unlock()
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("ipc: onExit callback panicked", slog.Any("panic", r), slog.Int("pid", h.PID))
			}
		}()
		cb(err)
	}()
}

// OnMessage registers the callback invoked for every decoded message.
func (h *Handle) OnMessage(cb func(Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = cb
}

// OnExit registers the callback invoked when the child process exits,
// whether cleanly or not. err is nil only for a clean (status 0) exit.
func (h *Handle) OnExit(cb func(err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = cb
}

// Send writes one framed message to the child's stdin.
func (h *Handle) Send(payload []byte) *errs.Error {
	frame, ferr := EncodeFrame(payload)
	if ferr != nil {
		return ferr
	}
	if _, err := h.stdin.Write(frame); err != nil {
		return errs.Wrap(errs.DomainProcess, errs.ProcessCrashed, err)
	}
	return nil
}

// Kill issues an immediate, unmaskable termination. Idempotent.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	})
}

func applyConstraints(cmd *exec.Cmd, c Constraints, logger *slog.Logger) {
	if c.MemoryCapBytes > 0 {
		if !applyMemoryCap(cmd, c.MemoryCapBytes) {
			logger.Warn("ipc: memory cap not enforceable on this platform; applying as advisory only",
				slog.Int64("memory_cap_bytes", c.MemoryCapBytes))
		}
	}
	if c.DenyNetwork || c.DenyFileWrite || c.DenyChildSpawn {
		logger.Debug("ipc: process constraints recorded as advisory; enforcement is defense-in-depth only",
			slog.Bool("deny_network", c.DenyNetwork),
			slog.Bool("deny_file_write", c.DenyFileWrite),
			slog.Bool("deny_child_spawn", c.DenyChildSpawn),
		)
	}
}
