package manifest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/victoralfred/gowritter/safepath"
	"gopkg.in/yaml.v3"

	"github.com/victoralfred/gospawn/command"
)

// ErrImmutableField indicates a re-applied definition that tries to change
// a field fixed at command construction (path, no_wait).
var ErrImmutableField = errors.New("immutable field changed for an existing command")

// Validator checks a loaded manifest before it is accepted.
type Validator interface {
	Validate(m *Manifest) error
}

// Loader loads manifests from a YAML file and detects changes between
// loads.
type Loader struct {
	path       string
	safePath   *safepath.SafePath
	log        zerolog.Logger
	validators []Validator
	onChange   []func(*Manifest)

	mu        sync.RWMutex
	manifest  *Manifest
	lastHash  []byte
	lastLoad  time.Time
	watchStop chan struct{}
}

// LoaderOption configures the loader.
type LoaderOption func(*Loader)

// WithValidator adds a manifest validator. Validators run in registration
// order on every load.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) {
		l.validators = append(l.validators, v)
	}
}

// WithOnChange adds a callback invoked whenever a load produced a manifest
// that differs from the previous one.
func WithOnChange(fn func(*Manifest)) LoaderOption {
	return func(l *Loader) {
		l.onChange = append(l.onChange, fn)
	}
}

// WithLogger sets the loader logger. Without it logging is disabled.
func WithLogger(log zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader creates a loader for the manifest file at manifestFile,
// resolved inside basePath.
func NewLoader(basePath, manifestFile string, opts ...LoaderOption) (*Loader, error) {
	sp, err := safepath.New(basePath)
	if err != nil {
		return nil, fmt.Errorf("creating safe path: %w", err)
	}

	l := &Loader{
		path:     manifestFile,
		safePath: sp,
		log:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Load reads and parses the manifest file. When the file content has not
// changed since the previous load the cached manifest is returned and no
// callbacks fire.
func (l *Loader) Load(ctx context.Context) (*Manifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.safePath.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	hash := sha256.Sum256(data)
	if l.manifest != nil && string(hash[:]) == string(l.lastHash) {
		return l.manifest, nil
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}

	for _, v := range l.validators {
		if err := v.Validate(&m); err != nil {
			return nil, fmt.Errorf("manifest validation failed: %w", err)
		}
	}

	l.manifest = &m
	l.lastHash = hash[:]
	l.lastLoad = time.Now()

	l.log.Info().
		Str("file", l.path).
		Str("name", m.Metadata.Name).
		Int("commands", len(m.Commands)).
		Msg("manifest loaded")

	for _, fn := range l.onChange {
		fn(&m)
	}

	return &m, nil
}

// Get returns the most recently loaded manifest without reloading. It
// returns nil before the first successful load.
func (l *Loader) Get() *Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.manifest
}

// Reload loads the manifest and discards the result.
func (l *Loader) Reload(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

// Watch polls the manifest file at the given interval until the context is
// done or StopWatch is called. Failed loads are logged and watching
// continues.
func (l *Loader) Watch(ctx context.Context, interval time.Duration) {
	l.mu.Lock()
	l.watchStop = make(chan struct{})
	stop := l.watchStop
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := l.Load(ctx); err != nil {
					l.log.Warn().Err(err).Str("file", l.path).Msg("manifest reload failed")
				}
			}
		}
	}()
}

// StopWatch stops a running watch.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchStop != nil {
		close(l.watchStop)
		l.watchStop = nil
	}
}

// ParseYAML parses manifest YAML without a loader.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Apply creates or updates registry commands from the manifest. New IDs
// are created; existing IDs have their arguments, environment overrides,
// stdin payload and capture capacities re-applied. A changed path or
// no_wait flag on an existing ID fails with ErrImmutableField, since those
// are fixed at construction.
func (m *Manifest) Apply(reg *command.Registry) error {
	for i := range m.Commands {
		if err := applyDefinition(&m.Commands[i], reg); err != nil {
			return fmt.Errorf("command %q: %w", m.Commands[i].ID, err)
		}
	}
	return nil
}

func applyDefinition(def *Definition, reg *command.Registry) error {
	cmd, ok := reg.Lookup(def.ID)
	if !ok {
		var opts []command.Option
		if def.NoWait {
			opts = append(opts, command.NoWait())
		}
		created, err := reg.Create(def.ID, def.Path, opts...)
		if err != nil {
			return err
		}
		cmd = created
	} else {
		if cmd.Path() != def.Path {
			return fmt.Errorf("%w: path %q -> %q", ErrImmutableField, cmd.Path(), def.Path)
		}
		if cmd.WaitMode() == def.NoWait {
			return fmt.Errorf("%w: no_wait", ErrImmutableField)
		}
	}

	for _, arg := range def.Args {
		if err := cmd.SetArgument(arg.Position, arg.Value); err != nil {
			return err
		}
	}
	for name, value := range def.Env {
		if err := cmd.SetEnvVar(name, value); err != nil {
			return err
		}
	}
	cmd.SetStdinPayload([]byte(def.Stdin))

	if def.StdoutCapacity.Bytes > 0 {
		if err := cmd.EnsureStdoutCapacity(int(def.StdoutCapacity.Bytes)); err != nil {
			return err
		}
	}
	if def.StderrCapacity.Bytes > 0 {
		if err := cmd.EnsureStderrCapacity(int(def.StderrCapacity.Bytes)); err != nil {
			return err
		}
	}
	return nil
}
