package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/victoralfred/gowritter/safepath"
	"go.opentelemetry.io/otel/trace"

	"github.com/victoralfred/gospawn/command"
)

// AuditLogger provides append-only audit logging of command runs.
type AuditLogger interface {
	// Log logs an audit event.
	Log(ctx context.Context, event *AuditEvent) error

	// Query returns logged events matching the filter, oldest first.
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error)

	// Close closes the audit logger.
	Close() error
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	ID          string         `json:"id"`
	CommandID   string         `json:"command_id"`
	Path        string         `json:"path"`
	Outcome     string         `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	Signal      string         `json:"signal,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Type        AuditEventType `json:"type"`
	Argv        []string       `json:"argv"`
	Duration    time.Duration  `json:"duration"`
	ExitCode    int            `json:"exit_code"`
	StdoutBytes int            `json:"stdout_bytes"`
	StderrBytes int            `json:"stderr_bytes"`
	WaitMode    bool           `json:"wait_mode"`
	Recorded    bool           `json:"recorded"`
}

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// AuditEventRun is a completed run call.
	AuditEventRun AuditEventType = "run"

	// AuditEventRejected is a run vetoed before the child started.
	AuditEventRejected AuditEventType = "rejected"

	// AuditEventError is a run call that returned an error.
	AuditEventError AuditEventType = "error"
)

// AuditFilter filters audit events.
type AuditFilter struct {
	// StartTime is the start of the time range.
	StartTime time.Time

	// EndTime is the end of the time range.
	EndTime time.Time

	// CommandID filters by command.
	CommandID string

	// Type filters by event type.
	Type AuditEventType

	// Limit is the maximum number of events to return.
	Limit int
}

func (f *AuditFilter) matches(event *AuditEvent) bool {
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && event.Timestamp.After(f.EndTime) {
		return false
	}
	if f.CommandID != "" && event.CommandID != f.CommandID {
		return false
	}
	if f.Type != "" && event.Type != f.Type {
		return false
	}
	return true
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	// Enabled turns audit logging on.
	Enabled bool

	// LogLevel determines which events are written.
	LogLevel AuditLogLevel

	// BasePath confines all file access.
	BasePath string

	// FilePath is the log file, relative to BasePath.
	FilePath string
}

// AuditLogLevel determines what events to log.
type AuditLogLevel string

const (
	// AuditLogAll logs all events.
	AuditLogAll AuditLogLevel = "all"

	// AuditLogFailures logs only failed run calls.
	AuditLogFailures AuditLogLevel = "failures"
)

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:  true,
		LogLevel: AuditLogAll,
		BasePath: "/var/log",
		FilePath: "gospawn/audit.log",
	}
}

// fileAuditLogger implements AuditLogger on a confined JSONL file.
type fileAuditLogger struct {
	safePath *safepath.SafePath
	config   AuditConfig
	mu       sync.Mutex
}

// NewFileAuditLogger creates a new file-based audit logger.
func NewFileAuditLogger(config AuditConfig) (AuditLogger, error) {
	sp, err := safepath.New(config.BasePath)
	if err != nil {
		return nil, fmt.Errorf("creating safe path: %w", err)
	}

	return &fileAuditLogger{
		config:   config,
		safePath: sp,
	}, nil
}

// Log implements AuditLogger.Log.
func (l *fileAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !l.config.Enabled {
		return nil
	}
	if l.config.LogLevel == AuditLogFailures && event.Error == "" {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.safePath.AppendFile(l.config.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// Query implements AuditLogger.Query.
func (l *fileAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	data, err := l.safePath.ReadFile(l.config.FilePath)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	if filter == nil {
		filter = &AuditFilter{}
	}

	var events []*AuditEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		event := &AuditEvent{}
		if err := json.Unmarshal(line, event); err != nil {
			return nil, fmt.Errorf("parsing audit log line: %w", err)
		}
		if !filter.matches(event) {
			continue
		}
		events = append(events, event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}

	return events, nil
}

// Close implements AuditLogger.Close.
func (l *fileAuditLogger) Close() error {
	return nil
}

// CreateAuditEvent builds an audit event from a run report.
func CreateAuditEvent(report command.Report, traceID string) *AuditEvent {
	event := &AuditEvent{
		ID:          report.RunID,
		Timestamp:   time.Now(),
		Type:        AuditEventRun,
		CommandID:   report.CommandID,
		Path:        report.Path,
		Argv:        report.Argv,
		Outcome:     Outcome(report),
		ExitCode:    report.ExitCode,
		Signal:      report.Signal,
		Duration:    report.Duration,
		StdoutBytes: report.StdoutBytes,
		StderrBytes: report.StderrBytes,
		WaitMode:    report.WaitMode,
		Recorded:    report.Recorded,
		TraceID:     traceID,
	}

	if report.Err != nil {
		event.Error = report.Err.Error()
		event.Type = AuditEventError
	}
	switch event.Outcome {
	case "rejected", "rate_limited":
		event.Type = AuditEventRejected
	}

	return event
}

// Auditor logs every completed run call to an AuditLogger. It implements
// command.RunObserver; logging failures are reported through the given
// logger and never fail the run.
type Auditor struct {
	logger AuditLogger
	log    zerolog.Logger
}

// NewAuditor creates an auditor writing to the given audit logger.
func NewAuditor(logger AuditLogger, log zerolog.Logger) *Auditor {
	return &Auditor{logger: logger, log: log}
}

// RunStarted implements command.RunObserver.
func (a *Auditor) RunStarted(ctx context.Context, start command.RunStart) (context.Context, error) {
	return ctx, nil
}

// RunCompleted implements command.RunObserver.
func (a *Auditor) RunCompleted(ctx context.Context, report command.Report) {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	event := CreateAuditEvent(report, traceID)
	if err := a.logger.Log(ctx, event); err != nil {
		a.log.Error().Err(err).Str("run_id", report.RunID).Msg("audit log write failed")
	}
}

// NoopAuditLogger returns a no-op audit logger.
func NoopAuditLogger() AuditLogger {
	return &noopAuditLogger{}
}

type noopAuditLogger struct{}

func (l *noopAuditLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (l *noopAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	return nil, nil
}
func (l *noopAuditLogger) Close() error { return nil }
