package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestIsRunning(t *testing.T) {
	if IsRunning(0) {
		t.Fatalf("pid 0 must not be running")
	}
	if IsRunning(-1) {
		t.Fatalf("negative pid must not be running")
	}
	if !IsRunning(os.Getpid()) {
		t.Fatalf("current process should be running")
	}
	if IsRunning(99999999) {
		t.Fatalf("huge pid should not be running")
	}
}

func TestIsRunningZombie(t *testing.T) {
	requireUnix(t)
	if runtime.GOOS != "linux" {
		t.Skip("zombie state inspection via /proc")
	}
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	// Not reaped yet: the child exits and sits in zombie state.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !isZombieLinux(pid) {
		time.Sleep(10 * time.Millisecond)
	}
	if !isZombieLinux(pid) {
		_ = cmd.Wait()
		t.Skip("child did not become a zombie in time")
	}
	if IsRunning(pid) {
		t.Fatalf("zombie pid %d reported as running", pid)
	}
	_ = cmd.Wait()
}

func TestLogMTime(t *testing.T) {
	dir := t.TempDir()
	if _, ok := LogMTime(filepath.Join(dir, "missing.log")); ok {
		t.Fatalf("missing file should report no mtime")
	}
	if _, ok := LogMTime(""); ok {
		t.Fatalf("empty path should report no mtime")
	}
	p := filepath.Join(dir, "sim.log")
	if err := os.WriteFile(p, []byte("tick\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(p, want, want); err != nil {
		t.Fatal(err)
	}
	got, ok := LogMTime(p)
	if !ok || !got.Equal(want) {
		t.Fatalf("mtime mismatch: got %v ok=%v want %v", got, ok, want)
	}
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "w.pid")
	if _, err := ReadPIDFile(p); err == nil {
		t.Fatalf("expected error for missing file")
	}
	_ = os.WriteFile(p, []byte("abc"), 0o644)
	if _, err := ReadPIDFile(p); err == nil {
		t.Fatalf("expected error for invalid content")
	}
	_ = os.WriteFile(p, []byte("1234\n{\"meta\":1}\n"), 0o644)
	pid, err := ReadPIDFile(p)
	if err != nil || pid != 1234 {
		t.Fatalf("expected 1234, got %d %v", pid, err)
	}
}

func TestSystemProbe(t *testing.T) {
	var p Probe = System{}
	if !p.IsRunning(os.Getpid()) {
		t.Fatalf("system probe should see current process")
	}
	if _, ok := p.LogMTime("/definitely/not/here.log"); ok {
		t.Fatalf("expected no mtime")
	}
}
