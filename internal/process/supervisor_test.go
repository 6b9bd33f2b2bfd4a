package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpawnFileRedirectionWritesOutput(t *testing.T) {
	dir := t.TempDir()
	sup := NewSupervisor(dir)

	req := SpawnRequest{
		Bin:  "/bin/echo",
		Argv: []string{"echo", "hi"},
		Redir: [3]RedirSpec{
			{Kind: RedirFile},
			{Kind: RedirFile},
			{Kind: RedirFile},
		},
	}

	proc, err := sup.Spawn(req)
	if err != nil {
		t.Fatal(err)
	}

	var state *os.ProcessState
	for i := 0; i < 50; i++ {
		p, err := os.FindProcess(proc.Pid())
		if err != nil {
			t.Fatal(err)
		}
		state, _ = p.Wait()
		if state != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	path := filepath.Join(dir, "1", "1")
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if string(out) != "hi\n" {
		t.Fatalf("expected %q, got %q", "hi\n", out)
	}
}

func TestSpawnRejectsSecondEntrypoint(t *testing.T) {
	dir := t.TempDir()
	sup := NewSupervisor(dir)

	req := SpawnRequest{
		Bin:          "/bin/true",
		Argv:         []string{"true"},
		IsEntrypoint: true,
		Redir: [3]RedirSpec{
			{Kind: RedirFile},
			{Kind: RedirFile},
			{Kind: RedirFile},
		},
	}

	if _, err := sup.Spawn(req); err != nil {
		t.Fatal(err)
	}

	req2 := req
	if _, err := sup.Spawn(req2); err != ErrAlreadyEntrypoint {
		t.Fatalf("expected ErrAlreadyEntrypoint, got %v", err)
	}
}

func TestKillUnknownProcess(t *testing.T) {
	dir := t.TempDir()
	sup := NewSupervisor(dir)

	if err := sup.Kill(999); err == nil {
		t.Fatal("expected error killing unknown process")
	}
}
