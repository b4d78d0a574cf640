package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

const defaultUsageInterval = 5 * time.Second

// ProcessSpawner runs each session in its own OS process. The child is
// started as Executable Args... and must call RunChild.
type ProcessSpawner struct {
	Executable    string
	Args          []string
	InboxSize     int
	UsageInterval time.Duration
	Logger        *logging.Logger
}

// Spawn starts the worker process of session
func (s *ProcessSpawner) Spawn(session models.Session) (Handle, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	executable := s.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		executable = self
	}
	inboxSize := s.InboxSize
	if inboxSize <= 0 {
		inboxSize = worker.DefaultInboxSize
	}
	interval := s.UsageInterval
	if interval <= 0 {
		interval = defaultUsageInterval
	}

	cmd := exec.Command(executable, s.Args...)
	// Own process group so a kill reaches anything the worker started (git)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	h := &processHandle{
		sessionID: session.ID,
		cmd:       cmd,
		stdin:     stdin,
		writer:    bufio.NewWriter(stdin),
		outbox:    make(chan Command, inboxSize),
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		events:    make(chan worker.Event, eventBuffer),
		logger:    logger.WithFields(map[string]interface{}{"session_id": session.ID, "pid": cmd.Process.Pid}),
	}

	if err := h.write(Command{Type: CommandStart, Session: &session}); err != nil {
		h.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to send start command: %w", err)
	}
	h.logger.Info("Started worker process")

	go h.writeLoop()
	go h.readLoop(stdout)
	go h.sampleUsage(interval)
	return h, nil
}

type processHandle struct {
	sessionID string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	writer    *bufio.Writer
	logger    *logging.Logger

	mu       sync.RWMutex
	stopping bool
	killed   bool

	outbox   chan Command
	stopOnce sync.Once
	stopCh   chan struct{}
	exited   chan struct{}
	events   chan worker.Event
}

func (h *processHandle) Deliver(sample models.TrafficSample) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopping {
		return false
	}
	select {
	case h.outbox <- Command{Type: CommandSample, Sample: &sample}:
		return true
	default:
		return false
	}
}

func (h *processHandle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopping = true
		h.mu.Unlock()
		close(h.stopCh)
	})
}

func (h *processHandle) Kill() {
	h.mu.Lock()
	h.stopping = true
	h.killed = true
	h.mu.Unlock()

	if h.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Fall back to the leader alone
		_ = h.cmd.Process.Kill()
	}
}

func (h *processHandle) Events() <-chan worker.Event {
	return h.events
}

func (h *processHandle) write(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if _, err := h.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return h.writer.Flush()
}

// writeLoop forwards queued samples to the child. On stop, samples queued
// before the stop are written first, then the stop command.
func (h *processHandle) writeLoop() {
	defer h.stdin.Close()

	for {
		select {
		case <-h.exited:
			return
		case cmd := <-h.outbox:
			if err := h.write(cmd); err != nil {
				h.logger.Warn("Failed to write to worker process", map[string]interface{}{"error": err})
				return
			}
		case <-h.stopCh:
			for pending := true; pending; {
				select {
				case cmd := <-h.outbox:
					if err := h.write(cmd); err != nil {
						return
					}
				default:
					pending = false
				}
			}
			if err := h.write(Command{Type: CommandStop}); err != nil {
				h.logger.Warn("Failed to send stop command", map[string]interface{}{"error": err})
			}
			// Keep stdin open until the child exits, EOF would be read as a second stop
			<-h.exited
			return
		}
	}
}

// readLoop relays child events until stdout closes, then reaps the child
func (h *processHandle) readLoop(stdout io.Reader) {
	defer close(h.events)

	var exit *worker.Event
	dec := json.NewDecoder(stdout)
	for {
		var ev worker.Event
		if err := dec.Decode(&ev); err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("Malformed worker output", map[string]interface{}{"error": err})
			}
			break
		}
		if ev.Type == worker.EventExited {
			e := ev
			exit = &e
			continue
		}
		h.events <- ev
	}

	waitErr := h.cmd.Wait()
	close(h.exited)

	h.mu.RLock()
	killed := h.killed
	h.mu.RUnlock()

	if exit == nil {
		exit = &worker.Event{Type: worker.EventExited, SessionID: h.sessionID}
		switch {
		case killed:
			exit.Killed = true
		default:
			exit.Crashed = true
		}
		if waitErr != nil {
			exit.Error = waitErr.Error()
		} else {
			exit.Error = "worker process exited without reporting"
		}
	}

	fields := map[string]interface{}{"killed": killed}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		fields["exit_code"] = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			fields["signal"] = status.Signal().String()
		}
	}
	h.logger.Info("Worker process exited", fields)
	h.events <- *exit
}

// sampleUsage publishes the child's resident memory and CPU usage
func (h *processHandle) sampleUsage(interval time.Duration) {
	defer func() {
		metrics.WorkerRSSBytes.DeleteLabelValues(h.sessionID)
		metrics.WorkerCPUPercent.DeleteLabelValues(h.sessionID)
	}()

	proc, err := process.NewProcess(int32(h.cmd.Process.Pid))
	if err != nil {
		h.logger.Debug("Worker usage sampling unavailable", map[string]interface{}{"error": err})
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.exited:
			return
		case <-ticker.C:
			if mem, err := proc.MemoryInfo(); err == nil {
				metrics.WorkerRSSBytes.WithLabelValues(h.sessionID).Set(float64(mem.RSS))
			}
			if cpu, err := proc.CPUPercent(); err == nil {
				metrics.WorkerCPUPercent.WithLabelValues(h.sessionID).Set(cpu)
			}
		}
	}
}
