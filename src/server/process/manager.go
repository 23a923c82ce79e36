// Package process manages the lifecycle of spawned language server
// processes: spawn, monitor, graceful stop with kill fallback.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/types"
)

// ShutdownTimeout bounds how long a server gets to exit after shutdown/exit
// before it is killed.
const ShutdownTimeout = 5 * time.Second

// Info holds the handles of a running LSP server process.
type Info struct {
	Cmd             *exec.Cmd
	Stdin           io.WriteCloser
	Stdout          io.ReadCloser
	Stderr          io.ReadCloser
	StopCh          chan struct{}
	IntentionalStop bool
	Language        string
}

// ShutdownSender sends the LSP shutdown sequence over an established
// connection before the process is terminated.
type ShutdownSender interface {
	SendShutdownRequest(ctx context.Context) error
	SendExitNotification(ctx context.Context) error
}

// Manager spawns and reaps LSP server processes.
type Manager struct{}

// NewManager creates a process manager.
func NewManager() *Manager {
	return &Manager{}
}

// Spawn starts the configured server binary. A binary that is not
// installed yields (nil, nil): the caller treats the language as
// unsupported rather than failing.
func (pm *Manager) Spawn(config types.ClientConfig, language string) (*Info, error) {
	if _, err := exec.LookPath(config.Command); err != nil {
		common.LSPLogger.Debug("LSP server binary not found for %s: %s", language, config.Command)
		return nil, nil
	}

	cmd := exec.Command(config.Command, config.Args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	} else if wd, err := os.Getwd(); err == nil {
		cmd.Dir = wd
	}

	info := &Info{
		Cmd:      cmd,
		StopCh:   make(chan struct{}),
		Language: language,
	}

	var err error
	info.Stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	info.Stdout, err = cmd.StdoutPipe()
	if err != nil {
		info.Stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	info.Stderr, err = cmd.StderrPipe()
	if err != nil {
		info.Stdin.Close()
		info.Stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pm.Cleanup(info)
		return nil, fmt.Errorf("failed to start LSP server: %w", err)
	}

	common.LSPLogger.Info("Started LSP server for %s: %s (PID %d)", language, config.Command, cmd.Process.Pid)
	return info, nil
}

// Stop terminates the process: LSP shutdown sequence first, then a bounded
// wait, then kill.
func (pm *Manager) Stop(info *Info, sender ShutdownSender) error {
	if info == nil {
		return nil
	}

	info.IntentionalStop = true
	select {
	case <-info.StopCh:
	default:
		close(info.StopCh)
	}

	if sender != nil {
		pm.sendShutdown(sender)
	}

	if info.Cmd != nil && info.Cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- info.Cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(ShutdownTimeout):
			common.LSPLogger.Warn("LSP server %s did not exit within %v, killing", info.Language, ShutdownTimeout)
			if err := info.Cmd.Process.Kill(); err != nil {
				common.LSPLogger.Error("Failed to kill LSP server %s: %v", info.Language, err)
			}
			<-done
		}
	}

	pm.Cleanup(info)
	return nil
}

// Monitor blocks until the process exits, signals StopCh, and reports the
// exit through onExit. Run it on its own goroutine.
func (pm *Manager) Monitor(info *Info, onExit func(error)) {
	if info == nil || info.Cmd == nil || info.Cmd.Process == nil {
		if onExit != nil {
			onExit(fmt.Errorf("invalid process info"))
		}
		return
	}

	err := info.Cmd.Wait()

	if !info.IntentionalStop {
		if err != nil {
			common.LSPLogger.Error("LSP server %s exited unexpectedly: %v", info.Language, err)
		} else {
			common.LSPLogger.Info("LSP server %s exited", info.Language)
		}
	}

	select {
	case <-info.StopCh:
	default:
		close(info.StopCh)
	}

	if onExit != nil {
		onExit(err)
	}
}

// Cleanup closes all pipes.
func (pm *Manager) Cleanup(info *Info) {
	if info == nil {
		return
	}
	if info.Stdin != nil {
		info.Stdin.Close()
		info.Stdin = nil
	}
	if info.Stdout != nil {
		info.Stdout.Close()
		info.Stdout = nil
	}
	if info.Stderr != nil {
		info.Stderr.Close()
		info.Stderr = nil
	}
}

func (pm *Manager) sendShutdown(sender ShutdownSender) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = sender.SendShutdownRequest(shutdownCtx)

	exitCtx, exitCancel := context.WithTimeout(context.Background(), time.Second)
	defer exitCancel()
	_ = sender.SendExitNotification(exitCtx)
}
