package dbtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// Owner identifies the test-binary process that holds a test database. The start time
// distinguishes a live process from a later one that happens to reuse the pid.
type Owner struct {
	Host      string
	PID       int64
	StartedAt int64 // ms since epoch, as reported by the OS
}

// String renders the owner as pid@started_at@host.
func (o Owner) String() string {
	return fmt.Sprintf("%d@%d@%s", o.PID, o.StartedAt, o.Host)
}

// ParseOwner is the inverse of Owner.String.
func ParseOwner(s string) (Owner, error) {
	parts := strings.SplitN(s, "@", 3)
	if len(parts) != 3 {
		return Owner{}, fmt.Errorf("malformed owner %q", s)
	}

	pid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Owner{}, fmt.Errorf("malformed owner pid %q: %w", s, err)
	}

	startedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Owner{}, fmt.Errorf("malformed owner start time %q: %w", s, err)
	}

	return Owner{Host: parts[2], PID: pid, StartedAt: startedAt}, nil
}

// CurrentOwner describes the running process.
func CurrentOwner(ctx context.Context) (Owner, error) {
	host, err := os.Hostname()
	if err != nil {
		return Owner{}, fmt.Errorf("failed to read hostname: %w", err)
	}

	pid := os.Getpid()

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Owner{}, fmt.Errorf("failed to inspect own process: %w", err)
	}

	startedAt, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return Owner{}, fmt.Errorf("failed to read own process start time: %w", err)
	}

	return Owner{Host: host, PID: int64(pid), StartedAt: startedAt}, nil
}

// LivenessChecker answers whether the process behind an owner still runs.
type LivenessChecker interface {
	IsAlive(ctx context.Context, owner Owner) bool
}

// LivenessFunc adapts a function to LivenessChecker.
type LivenessFunc func(ctx context.Context, owner Owner) bool

// IsAlive calls f.
func (f LivenessFunc) IsAlive(ctx context.Context, owner Owner) bool {
	return f(ctx, owner)
}

// ProcessLiveness checks owners against the local process table. Owners on other hosts
// cannot be inspected and are always reported alive.
type ProcessLiveness struct {
	Host string
}

// IsAlive reports whether owner's pid exists and was started at the recorded time.
// When the process exists but its start time cannot be read, it is assumed alive.
func (p ProcessLiveness) IsAlive(ctx context.Context, owner Owner) bool {
	if owner.Host != p.Host {
		return true
	}

	proc, err := process.NewProcessWithContext(ctx, int32(owner.PID))
	if err != nil {
		return !errors.Is(err, process.ErrorProcessNotRunning)
	}

	startedAt, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return true
	}

	return startedAt == owner.StartedAt
}
