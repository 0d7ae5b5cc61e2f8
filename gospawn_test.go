package gospawn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/victoralfred/gospawn/binding"
	"github.com/victoralfred/gospawn/command"
	"github.com/victoralfred/gospawn/config"
	"github.com/victoralfred/gospawn/observability"
	"github.com/victoralfred/gospawn/validation"
)

// missingBinary is absolute so command creation succeeds, but does not
// exist, so every run fails at spawn time without touching a real child.
const missingBinary = "/nonexistent/gospawn-test-binary"

func newTestConfig() config.Config {
	cfg := config.DevelopmentConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Pretty = false
	cfg.Manifest.FilePath = ""
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := e.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return e
}

type vetoHook struct {
	err error
}

func (h *vetoHook) Name() string  { return "veto" }
func (h *vetoHook) Priority() int { return 1 }

func (h *vetoHook) BeforeRun(ctx context.Context, _ command.RunStart) (context.Context, error) {
	return ctx, h.err
}

func TestNew_RejectsBadConfig(t *testing.T) {
	t.Run("invalid log level", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Logging.Level = "verbose"
		if _, err := New(cfg); err == nil {
			t.Fatal("New() accepted an invalid log level")
		}
	})

	t.Run("watch without manifest file", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Manifest.Watch = true
		if _, err := New(cfg); err == nil {
			t.Fatal("New() accepted watch without a manifest file")
		}
	})
}

func TestEngine_CreateAndLookup(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	if _, err := e.Create("backup", missingBinary); err != nil {
		t.Fatalf("Create(backup) error = %v", err)
	}
	if _, err := e.Create("archive", missingBinary); err != nil {
		t.Fatalf("Create(archive) error = %v", err)
	}

	if _, ok := e.Lookup("backup"); !ok {
		t.Error("Lookup(backup) did not find the command")
	}
	if _, ok := e.Lookup("ghost"); ok {
		t.Error("Lookup(ghost) found a command that was never created")
	}

	ids := e.CommandIDs()
	if len(ids) != 2 || ids[0] != "archive" || ids[1] != "backup" {
		t.Errorf("CommandIDs() = %v, want [archive backup]", ids)
	}

	if _, err := e.Create("backup", missingBinary); !errors.Is(err, ErrCommandIDInUse) {
		t.Errorf("duplicate Create error = %v, want ErrCommandIDInUse", err)
	}
}

func TestEngine_Run_UnknownCommand(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	if err := e.Run(context.Background(), "ghost"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Run(ghost) error = %v, want ErrCommandNotFound", err)
	}
	if _, err := e.RunAsync(context.Background(), "ghost"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("RunAsync(ghost) error = %v, want ErrCommandNotFound", err)
	}
}

func TestEngine_Run_SpawnFailure(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	cmd, err := e.Create("broken", missingBinary)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := e.Run(context.Background(), "broken"); err == nil {
		t.Fatal("Run() succeeded for a missing binary")
	}
	if got := cmd.ExitCode(); got != ExitCodeSystemError {
		t.Errorf("ExitCode() = %d, want %d", got, ExitCodeSystemError)
	}

	snap := e.Metrics().Snapshot()
	if snap.TotalRuns != 1 || snap.FailedRuns != 1 || snap.SystemErrors != 1 {
		t.Errorf("snapshot = total %d failed %d system %d, want 1 1 1",
			snap.TotalRuns, snap.FailedRuns, snap.SystemErrors)
	}
	if snap.ActiveRuns != 0 {
		t.Errorf("ActiveRuns = %d after run finished, want 0", snap.ActiveRuns)
	}
}

func TestEngine_RateLimitDenial(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimiter.DefaultLimit = 0
	cfg.RateLimiter.DefaultBurst = 1
	e := newTestEngine(t, cfg)

	if _, err := e.Create("burst", missingBinary); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// The single burst token admits the first run; spawn failure does
	// not give it back.
	if err := e.Run(context.Background(), "burst"); errors.Is(err, ErrRateLimited) {
		t.Fatalf("first run was rate limited: %v", err)
	}
	if err := e.Run(context.Background(), "burst"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second run error = %v, want ErrRateLimited", err)
	}

	snap := e.Metrics().Snapshot()
	if snap.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", snap.RateLimited)
	}
	if snap.TotalRuns != 1 {
		t.Errorf("TotalRuns = %d, want 1; denials must not reach the observers", snap.TotalRuns)
	}
}

func TestEngine_HookVeto(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	if err := e.Hooks().Register(&vetoHook{err: errors.New("maintenance window")}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := e.Create("guarded", missingBinary); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := e.Run(context.Background(), "guarded")
	if !errors.Is(err, ErrHookRejected) {
		t.Fatalf("Run() error = %v, want ErrHookRejected", err)
	}

	// Hooks sit last in the observer chain, so the veto still reaches
	// the metrics collector on the unwind.
	snap := e.Metrics().Snapshot()
	if snap.Rejected != 1 || snap.FailedRuns != 1 {
		t.Errorf("snapshot = rejected %d failed %d, want 1 1", snap.Rejected, snap.FailedRuns)
	}
	if snap.ActiveRuns != 0 {
		t.Errorf("ActiveRuns = %d after veto, want 0", snap.ActiveRuns)
	}
}

func TestEngine_LoadManifest_NoManifest(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	if err := e.LoadManifest(context.Background()); !errors.Is(err, ErrNoManifest) {
		t.Errorf("LoadManifest() error = %v, want ErrNoManifest", err)
	}
}

const engineManifest = `version: "1"
metadata:
  name: engine-test
commands:
  - id: backup
    path: /usr/local/bin/backup
    args:
      - position: 1
        value: --full
    stdout_capacity: 64Ki
  - id: notify
    path: /usr/local/bin/notify
    no_wait: true
`

func TestEngine_LoadManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "commands.yaml"), []byte(engineManifest), 0o600); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	cfg := newTestConfig()
	cfg.Manifest.BasePath = dir
	cfg.Manifest.FilePath = "commands.yaml"
	e := newTestEngine(t, cfg)

	if err := e.LoadManifest(context.Background()); err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	cmd, ok := e.Lookup("backup")
	if !ok {
		t.Fatal("backup was not registered from the manifest")
	}
	if !cmd.WaitMode() {
		t.Error("backup should wait for its child")
	}
	if got := cmd.StdoutCapacity(); got != 64<<10 {
		t.Errorf("StdoutCapacity() = %d, want %d", got, 64<<10)
	}
	if notify, ok := e.Lookup("notify"); !ok || notify.WaitMode() {
		t.Errorf("notify registered = %v, wait = %v; want fire-and-forget command", ok, ok && notify.WaitMode())
	}

	// Reapplying the same manifest is a no-op.
	if err := e.LoadManifest(context.Background()); err != nil {
		t.Fatalf("second LoadManifest() error = %v", err)
	}
	if got := e.Registry().Len(); got != 2 {
		t.Errorf("Len() = %d after reload, want 2", got)
	}
}

func TestEngine_LoadManifest_ValidationRejects(t *testing.T) {
	dir := t.TempDir()
	noVersion := "commands:\n  - id: backup\n    path: /usr/local/bin/backup\n"
	if err := os.WriteFile(filepath.Join(dir, "commands.yaml"), []byte(noVersion), 0o600); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	cfg := newTestConfig()
	cfg.Manifest.BasePath = dir
	cfg.Manifest.FilePath = "commands.yaml"
	e := newTestEngine(t, cfg)

	err := e.LoadManifest(context.Background())
	if !errors.Is(err, validation.ErrVersionRequired) {
		t.Errorf("LoadManifest() error = %v, want ErrVersionRequired", err)
	}
	if got := e.Registry().Len(); got != 0 {
		t.Errorf("Len() = %d after rejected manifest, want 0", got)
	}
}

func TestEngine_WatchManifest(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "commands.yaml")
	v1 := "version: \"1\"\nreload_interval: 5ms\ncommands:\n  - id: backup\n    path: /usr/local/bin/backup\n"
	if err := os.WriteFile(file, []byte(v1), 0o600); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	cfg := newTestConfig()
	cfg.Manifest.BasePath = dir
	cfg.Manifest.FilePath = "commands.yaml"
	cfg.Manifest.Watch = true
	e := newTestEngine(t, cfg)

	if err := e.LoadManifest(context.Background()); err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if got := e.Registry().Len(); got != 1 {
		t.Fatalf("Len() = %d after initial load, want 1", got)
	}

	v2 := v1 + "  - id: notify\n    path: /usr/local/bin/notify\n    no_wait: true\n"
	if err := os.WriteFile(file, []byte(v2), 0o600); err != nil {
		t.Fatalf("rewriting manifest: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Registry().Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never applied the new manifest, Len() = %d", e.Registry().Len())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEngine_Bindings(t *testing.T) {
	e := newTestEngine(t, newTestConfig())

	cmd, err := e.Create("job", missingBinary)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	param, err := e.Parameter("job arg 1")
	if err != nil {
		t.Fatalf("Parameter() error = %v", err)
	}
	if err := param.Set("--fast"); err != nil {
		t.Errorf("Set() error = %v", err)
	}

	env, err := e.Parameter("job env TZ")
	if err != nil {
		t.Fatalf("Parameter(env) error = %v", err)
	}
	if err := env.Set("UTC"); err != nil {
		t.Errorf("Set(env) error = %v", err)
	}

	out, err := e.Output("job stdout", 2048)
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if got := cmd.StdoutCapacity(); got != 2048 {
		t.Errorf("StdoutCapacity() = %d after Output binding, want 2048", got)
	}
	if got := out.Bytes(); got != nil {
		t.Errorf("Bytes() = %v before any run, want nil", got)
	}

	if _, err := e.ExitCode("job exit_code"); err != nil {
		t.Errorf("ExitCode() error = %v", err)
	}
	if _, err := e.Stdin("job stdin"); err != nil {
		t.Errorf("Stdin() error = %v", err)
	}
	if _, err := e.Trigger("job run"); err != nil {
		t.Errorf("Trigger() error = %v", err)
	}

	if _, err := e.Parameter("ghost arg 1"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Parameter(ghost) error = %v, want ErrCommandNotFound", err)
	}
	if _, err := e.Trigger("job arg 1"); !errors.Is(err, binding.ErrKindNotAllowed) {
		t.Errorf("Trigger(arg address) error = %v, want ErrKindNotAllowed", err)
	}
}

func TestEngine_AuditTrail(t *testing.T) {
	cfg := newTestConfig()
	cfg.Engine.EnableAudit = true
	cfg.Audit.Enabled = true
	cfg.Audit.BasePath = t.TempDir()
	cfg.Audit.FilePath = "audit.log"
	e := newTestEngine(t, cfg)

	if _, err := e.Create("broken", missingBinary); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := e.Run(context.Background(), "broken"); err == nil {
		t.Fatal("Run() succeeded for a missing binary")
	}

	events, err := e.AuditLog().Query(context.Background(), &observability.AuditFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Query() returned %d events, want 1", len(events))
	}
	if events[0].CommandID != "broken" || events[0].Type != observability.AuditEventError {
		t.Errorf("event = %s/%s, want broken/%s", events[0].CommandID, events[0].Type, observability.AuditEventError)
	}
}

func TestEngine_Shutdown_Idempotent(t *testing.T) {
	e, err := New(newTestConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestRunOnce_SpawnFailure(t *testing.T) {
	code, _, err := RunOnce(context.Background(), missingBinary)
	if err == nil {
		t.Fatal("RunOnce() succeeded for a missing binary")
	}
	if code != ExitCodeSystemError {
		t.Errorf("exit code = %d, want %d", code, ExitCodeSystemError)
	}
}
