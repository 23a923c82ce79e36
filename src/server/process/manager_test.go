package process

import (
	"testing"

	"lsp-bridge/src/internal/types"
)

func TestSpawn_MissingBinaryIsNotAnError(t *testing.T) {
	pm := NewManager()
	info, err := pm.Spawn(types.ClientConfig{Command: "no-such-lsp-server-binary"}, "go")
	if err != nil {
		t.Fatalf("missing binary must not error, got %v", err)
	}
	if info != nil {
		t.Fatal("expected nil info for a missing binary")
	}
}

func TestStopAndCleanup_NilSafe(t *testing.T) {
	pm := NewManager()
	if err := pm.Stop(nil, nil); err != nil {
		t.Fatalf("Stop(nil) = %v", err)
	}
	pm.Cleanup(nil)
}

func TestSpawn_RealProcess(t *testing.T) {
	pm := NewManager()
	info, err := pm.Spawn(types.ClientConfig{Command: "cat"}, "test")
	if err != nil {
		t.Fatalf("Spawn cat: %v", err)
	}
	if info == nil {
		t.Skip("cat not installed")
	}
	if info.Cmd.Process == nil {
		t.Fatal("expected a running process")
	}

	// cat exits on stdin EOF, keeping the stop path fast.
	info.Stdin.Close()
	if err := pm.Stop(info, nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-info.StopCh:
	default:
		t.Fatal("StopCh not closed after Stop")
	}
}
