// Package environment defines the trial status vocabulary and the contract
// for environments that execute suggested configurations.
package environment

import (
	"fmt"
	"strings"
)

// Status is the state of a trial or of an environment operation.
type Status int

const (
	UNKNOWN Status = iota
	PENDING
	READY
	RUNNING
	SUCCEEDED
	CANCELED
	FAILED
	TIMED_OUT
)

var statusNames = [...]string{
	UNKNOWN:   "UNKNOWN",
	PENDING:   "PENDING",
	READY:     "READY",
	RUNNING:   "RUNNING",
	SUCCEEDED: "SUCCEEDED",
	CANCELED:  "CANCELED",
	FAILED:    "FAILED",
	TIMED_OUT: "TIMED_OUT",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a status name (case-insensitive) back to a Status.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == upper {
			return Status(i), nil
		}
	}
	return UNKNOWN, fmt.Errorf("unknown status %q", name)
}

// IsPending reports whether an operation is still in progress.
func (s Status) IsPending() bool { return s == PENDING || s == RUNNING }

// IsReady reports whether the environment is ready to run a workload.
func (s Status) IsReady() bool { return s == READY || s == SUCCEEDED }

// IsSucceeded reports whether the trial finished successfully.
func (s Status) IsSucceeded() bool { return s == SUCCEEDED }

// IsFailed reports whether the trial ended without a usable result.
func (s Status) IsFailed() bool { return s == FAILED || s == CANCELED || s == TIMED_OUT }

// IsCompleted reports whether the status is terminal.
func (s Status) IsCompleted() bool { return s.IsSucceeded() || s.IsFailed() }

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
