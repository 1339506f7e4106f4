package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner runs an external command and returns its combined output.
// Implementations must honor ctx cancellation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// MaxOutput caps the captured output in bytes. Zero means unlimited.
	MaxOutput int64
}

// Run executes name with args. The output is returned even when the command
// exits non-zero, since several Windows tools report findings that way.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	out := &cappedBuffer{limit: r.MaxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctx.Err() != nil {
		return normalizeOutput(out.Bytes()), ctx.Err()
	}
	return normalizeOutput(out.Bytes()), err
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 {
		remaining := b.limit - int64(b.buf.Len())
		if remaining <= 0 {
			return len(p), nil
		}
		if int64(len(p)) > remaining {
			b.buf.Write(p[:remaining])
			return len(p), nil
		}
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// normalizeOutput strips the NUL bytes left behind when a Windows tool writes
// UTF-16 to a pipe (sfc does this) and unifies line endings.
func normalizeOutput(out []byte) []byte {
	if bytes.IndexByte(out, 0) >= 0 {
		out = bytes.ReplaceAll(out, []byte{0}, nil)
	}
	return bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
}

// powershell runs script through Windows PowerShell
func powershell(ctx context.Context, runner CommandRunner, script string) ([]byte, error) {
	return runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// powershellJSON runs script piped through ConvertTo-Json and decodes the
// result into out, which must point to a slice. ConvertTo-Json emits a bare
// object when the pipeline yields a single item, so that case is wrapped.
func powershellJSON(ctx context.Context, runner CommandRunner, script string, out interface{}) error {
	raw, err := powershell(ctx, runner, script+" | ConvertTo-Json -Compress -Depth 3")
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		trimmed = append(append([]byte{'['}, trimmed...), ']')
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to decode PowerShell output: %w", err)
	}
	return nil
}

// containsAny reports whether s contains any of the substrings
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
