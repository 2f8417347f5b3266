// internal/adapter/pty.go
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/user/sessionhub/internal/replay"
	"github.com/user/sessionhub/internal/types"
)

// readBufferSize is the PTY read chunk size. Each read becomes one
// chunk event on the session's stdout channel.
const readBufferSize = 4096

// ptyMetadata is the kind-specific session metadata the PTY driver
// understands. All fields are optional.
type ptyMetadata struct {
	Shell string `json:"shell,omitempty"`
	Dir   string `json:"dir,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
}

type ptyProc struct {
	cmd    *exec.Cmd
	file   *os.File
	stopMu sync.Mutex
}

// PTYDriver spawns an interactive shell per session and streams its
// output into the coordinator as chunk events on the stdout channel.
type PTYDriver struct {
	defaultShell string
	hub          *replay.Coordinator
	registry     types.SessionRegistry

	mu    sync.Mutex
	procs map[types.SessionID]*ptyProc
}

func NewPTYDriver(defaultShell string, hub *replay.Coordinator, registry types.SessionRegistry) *PTYDriver {
	if defaultShell == "" {
		defaultShell = os.Getenv("SHELL")
	}
	if defaultShell == "" {
		defaultShell = "/bin/sh"
	}
	return &PTYDriver{
		defaultShell: defaultShell,
		hub:          hub,
		registry:     registry,
		procs:        make(map[types.SessionID]*ptyProc),
	}
}

// Start launches the shell on a fresh PTY, marks the session running,
// and begins pumping output. The open event is the first record on the
// session's timeline; the close event is the last.
func (d *PTYDriver) Start(ctx context.Context, sess *types.Session) error {
	var meta ptyMetadata
	if len(sess.Metadata) > 0 {
		// Metadata is advisory; garbage falls back to defaults.
		_ = json.Unmarshal(sess.Metadata, &meta)
	}
	shell := meta.Shell
	if shell == "" {
		shell = d.defaultShell
	}

	cmd := exec.Command(shell)
	cmd.Dir = meta.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	size := &pty.Winsize{Cols: meta.Cols, Rows: meta.Rows}
	if size.Cols == 0 {
		size.Cols = 80
	}
	if size.Rows == 0 {
		size.Rows = 24
	}

	file, err := pty.StartWithSize(cmd, size)
	if err != nil {
		if statusErr := d.registry.SetStatus(ctx, sess.ID, types.StatusError); statusErr != nil {
			slog.Error("mark session error failed", "session_id", sess.ID, "error", statusErr)
		}
		return fmt.Errorf("start pty %s: %w", shell, err)
	}

	proc := &ptyProc{cmd: cmd, file: file}
	d.mu.Lock()
	d.procs[sess.ID] = proc
	d.mu.Unlock()

	if err := d.registry.SetStatus(ctx, sess.ID, types.StatusRunning); err != nil {
		file.Close()
		cmd.Process.Kill()
		return err
	}
	if _, err := d.hub.Append(ctx, sess.ID, "stdout", types.EventOpen, types.TextPayload(shell)); err != nil {
		slog.Error("append open event failed", "session_id", sess.ID, "error", err)
	}

	go d.pump(sess.ID, proc)
	return nil
}

// pump copies PTY output into the event log until the shell exits. Runs
// detached from the Start context: a session outlives the request that
// created it.
func (d *PTYDriver) pump(sessionID types.SessionID, proc *ptyProc) {
	ctx := context.Background()
	buf := make([]byte, readBufferSize)
	for {
		n, err := proc.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if _, appendErr := d.hub.Append(ctx, sessionID, "stdout", types.EventChunk, types.BytesPayload(chunk)); appendErr != nil {
				slog.Error("append output chunk failed", "session_id", sessionID, "error", appendErr)
			}
		}
		if err != nil {
			// EIO is the normal end-of-session signal on Linux PTYs.
			break
		}
	}

	_ = proc.cmd.Wait()
	proc.file.Close()

	d.mu.Lock()
	delete(d.procs, sessionID)
	d.mu.Unlock()

	exit := map[string]any{"exit_code": proc.cmd.ProcessState.ExitCode()}
	if payload, perr := types.StructuredPayload(exit); perr == nil {
		if _, appendErr := d.hub.Append(ctx, sessionID, "stdout", types.EventClose, payload); appendErr != nil {
			slog.Error("append close event failed", "session_id", sessionID, "error", appendErr)
		}
	}

	// A non-zero shell exit is still a normal stop, not an error state.
	if serr := d.registry.SetStatus(ctx, sessionID, types.StatusStopped); serr != nil {
		var invalid *types.InvalidTransitionError
		// Already stopped (daemon shutdown sweep) is fine.
		if !errors.As(serr, &invalid) {
			slog.Error("mark session stopped failed", "session_id", sessionID, "error", serr)
		}
	}
}

func (d *PTYDriver) proc(sessionID types.SessionID) (*ptyProc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proc, ok := d.procs[sessionID]
	if !ok {
		return nil, fmt.Errorf("no running pty for session %s", sessionID)
	}
	return proc, nil
}

func (d *PTYDriver) Input(sessionID types.SessionID, data []byte) error {
	proc, err := d.proc(sessionID)
	if err != nil {
		return err
	}
	if _, err := proc.file.Write(data); err != nil {
		return fmt.Errorf("write pty input: %w", err)
	}
	return nil
}

func (d *PTYDriver) Resize(sessionID types.SessionID, cols, rows uint16) error {
	proc, err := d.proc(sessionID)
	if err != nil {
		return err
	}
	if err := pty.Setsize(proc.file, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Stop terminates the backing shell. The pump goroutine observes the
// PTY closing and finishes the session's timeline.
func (d *PTYDriver) Stop(sessionID types.SessionID) error {
	d.mu.Lock()
	proc, ok := d.procs[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	proc.stopMu.Lock()
	defer proc.stopMu.Unlock()
	if proc.cmd.Process != nil {
		return proc.cmd.Process.Kill()
	}
	return nil
}

var _ Driver = (*PTYDriver)(nil)
