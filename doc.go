// Package gospawn runs external executables without a shell, with
// per-slot argument and environment injection, bounded output capture
// and a fire-and-forget mode for daemon-style children.
//
// # Quick Start
//
// The Engine is the usual entry point. It owns the worker pool, the
// command registry, rate limiting and the observability chain:
//
//	engine, err := gospawn.New(config.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Shutdown()
//
//	cmd, err := engine.Create("backup", "/usr/local/bin/backup")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cmd.SetArgument(1, "--full")
//	cmd.EnsureStdoutCapacity(64 << 10)
//
//	if err := engine.Run(ctx, "backup"); err != nil {
//		log.Printf("backup failed: %v", err)
//	}
//	fmt.Printf("exit %d: %s", cmd.ExitCode(), cmd.StdoutBuffer())
//
// Commands can also be declared in a YAML manifest and applied in one
// step; see LoadManifest and the manifest package.
//
// # Direct Command Use
//
// For code that does not want an Engine, NewCommand builds a standalone
// command with its own defaults, and RunOnce covers the one-shot case:
//
//	code, out, err := gospawn.RunOnce(ctx, "/bin/date", "-u")
//
// # Bindings
//
// Bindings give external callers addressable handles into registered
// commands. An address names a command and one of its slots, for
// example "backup arg 1" or "backup env TZ":
//
//	target, _ := engine.Parameter("backup arg 1")
//	target.Set("--incremental")
//
//	run, _ := engine.Trigger("backup run")
//	run.Start(ctx)
//	run.Wait(ctx)
//
// # Observability
//
// Run lifecycle events flow through command.RunObserver. The engine
// assembles the chain from its configuration: in-process metrics,
// OpenTelemetry spans and instruments, an append-only audit log, and
// user hooks. Hooks sit last in the chain so that a veto from a
// BeforeRunHook is still visible to the audit log and the metrics.
//
// # Concurrency
//
// All exported types are safe for concurrent use. A single Command
// allows one run at a time; concurrent Run calls on the same command
// return ErrRunInProgress. Different commands run independently on the
// shared pool.
//
// # Packages
//
//   - command: commands, runs, the registry and the observer contract
//   - binding: string-addressed handles into command slots
//   - manifest: YAML command declarations, loading and hot reload
//   - validation: manifest and definition validators
//   - pool: the unbounded worker pool runs execute on
//   - resilience: token-bucket run admission control
//   - observability: metrics, OpenTelemetry and audit logging
//   - hooks: user BeforeRun/AfterRun extension points
//   - config: engine configuration presets
package gospawn
