package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/integration/gdb"
	"github.com/dshills/asmforge/internal/integration/process"
	"github.com/dshills/asmforge/internal/integration/toolchain"
)

// Manager is the facade over the toolchain and debugger components.
//
// It owns the process supervisor every assembler, linker and debugger
// runs under, applies the loaded configuration to each component, and
// publishes lifecycle events. Manager is safe for concurrent use.
type Manager struct {
	cfg    config.Config
	logger *zap.Logger
	clock  clock.Clock
	events EventPublisher

	supervisor *process.Supervisor
	assembler  *toolchain.Assembler
	spawn      gdb.SpawnFunc
	dialer     Dialer

	mu       sync.RWMutex
	sessions map[string]*gdb.Session

	shutdownTimeout time.Duration
	closed          atomic.Bool
	shutdown        chan struct{}
	startTime       time.Time
}

// ManagerOption configures a Manager instance.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	cfg             config.Config
	logger          *zap.Logger
	clock           clock.Clock
	events          EventPublisher
	maxProcesses    int
	shutdownTimeout time.Duration
	runner          toolchain.Runner
	spawn           gdb.SpawnFunc
	dialer          Dialer
}

// WithConfig sets the configuration. Defaults to config.Default().
func WithConfig(cfg config.Config) ManagerOption {
	return func(o *managerOptions) {
		o.cfg = cfg
	}
}

// WithLogger sets the root logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock shared by debug sessions, watchers and retries.
func WithClock(clk clock.Clock) ManagerOption {
	return func(o *managerOptions) {
		o.clock = clk
	}
}

// WithEventBus sets the event publisher.
func WithEventBus(p EventPublisher) ManagerOption {
	return func(o *managerOptions) {
		o.events = p
	}
}

// WithMaxProcesses limits concurrent child processes (0 = unlimited).
func WithMaxProcesses(max int) ManagerOption {
	return func(o *managerOptions) {
		o.maxProcesses = max
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.shutdownTimeout = timeout
	}
}

// WithRunner replaces the process runner used by the assembler.
func WithRunner(r toolchain.Runner) ManagerOption {
	return func(o *managerOptions) {
		o.runner = r
	}
}

// WithSpawner replaces how debug sessions start GDB.
func WithSpawner(fn gdb.SpawnFunc) ManagerOption {
	return func(o *managerOptions) {
		o.spawn = fn
	}
}

// WithDialer replaces the dialer used by WaitForTarget.
func WithDialer(d Dialer) ManagerOption {
	return func(o *managerOptions) {
		o.dialer = d
	}
}

// NewManager creates a manager. Call Close when done.
func NewManager(opts ...ManagerOption) *Manager {
	o := &managerOptions{
		cfg:             config.Default(),
		logger:          zap.NewNop(),
		clock:           clock.New(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	supOpts := []process.SupervisorOption{process.WithLogger(o.logger.Named("process"))}
	if o.maxProcesses > 0 {
		supOpts = append(supOpts, process.WithMaxProcesses(o.maxProcesses))
	}
	supervisor := process.NewSupervisor(supOpts...)

	runner := o.runner
	if runner == nil {
		runner = process.NewRunner(supervisor, process.WithRunnerLogger(o.logger.Named("runner")))
	}
	spawn := o.spawn
	if spawn == nil {
		spawn = gdb.SupervisorSpawner(supervisor)
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: time.Second}
	}

	asmOpts := []toolchain.Option{toolchain.WithLogger(o.logger.Named("toolchain"))}
	if o.cfg.Toolchain.Linker != "" {
		asmOpts = append(asmOpts, toolchain.WithLinker(o.cfg.Toolchain.Linker))
	}
	for name, exe := range o.cfg.Toolchain.Assemblers {
		if d, err := toolchain.ParseDialect(name); err == nil && exe != "" {
			asmOpts = append(asmOpts, toolchain.WithExecutable(d, exe))
		}
	}

	m := &Manager{
		cfg:             o.cfg,
		logger:          o.logger,
		clock:           o.clock,
		events:          o.events,
		supervisor:      supervisor,
		assembler:       toolchain.NewAssembler(runner, asmOpts...),
		spawn:           spawn,
		dialer:          dialer,
		sessions:        make(map[string]*gdb.Session),
		shutdownTimeout: o.shutdownTimeout,
		shutdown:        make(chan struct{}),
		startTime:       o.clock.Now(),
	}
	m.publish(TopicManagerStarted, nil)
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() config.Config { return m.cfg }

// Supervisor returns the process supervisor.
func (m *Manager) Supervisor() *process.Supervisor { return m.supervisor }

// Assembler returns the configured assembler driver.
func (m *Manager) Assembler() *toolchain.Assembler { return m.assembler }

// ResolveDialect returns requested when it names a dialect. For "" or
// "auto" it detects the dialect of the file at path, falling back to
// the configured default when nothing in the source is characteristic.
func (m *Manager) ResolveDialect(path, requested string) (toolchain.Dialect, error) {
	if requested != "" && requested != "auto" {
		return toolchain.ParseDialect(requested)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	det := toolchain.DetectDialect(string(data))
	if len(det.Matched) == 0 {
		return toolchain.ParseDialect(m.cfg.Toolchain.Dialect)
	}
	m.logger.Debug("dialect detected",
		zap.String("file", path),
		zap.String("dialect", string(det.Dialect)),
		zap.Float64("confidence", det.Confidence))
	return det.Dialect, nil
}

// BuildConfig returns a build of source with the configured settings
// for dialect d.
func (m *Manager) BuildConfig(source string, d toolchain.Dialect) toolchain.BuildConfig {
	return toolchain.BuildConfig{
		Source:      source,
		Assembler:   m.cfg.AssemblerConfig(d),
		LinkerFlags: append([]string(nil), m.cfg.Toolchain.LinkerFlags...),
		Listing:     m.cfg.Toolchain.Listing,
	}
}

// Build assembles and optionally links cfg.
func (m *Manager) Build(ctx context.Context, cfg toolchain.BuildConfig) (toolchain.BuildResult, error) {
	if m.closed.Load() {
		return toolchain.BuildResult{}, ErrManagerClosed
	}
	m.publish(TopicBuildStarted, map[string]any{
		"source":  cfg.Source,
		"dialect": string(cfg.Assembler.Dialect),
	})

	res, err := m.assembler.Build(ctx, cfg)
	if err != nil {
		return res, err
	}

	m.publish(TopicBuildCompleted, map[string]any{
		"source":   cfg.Source,
		"success":  res.Success,
		"output":   res.OutputFile,
		"errors":   toolchain.CountBySeverity(res.Diagnostics, toolchain.SeverityError),
		"warnings": toolchain.CountBySeverity(res.Diagnostics, toolchain.SeverityWarning),
		"duration": res.Duration.String(),
	})
	return res, nil
}

// Link links objects into output with the configured linker flags
// followed by flags.
func (m *Manager) Link(ctx context.Context, objects []string, output string, flags []string) (toolchain.BuildResult, error) {
	if m.closed.Load() {
		return toolchain.BuildResult{}, ErrManagerClosed
	}
	all := append(append([]string(nil), m.cfg.Toolchain.LinkerFlags...), flags...)
	res, err := m.assembler.Link(ctx, objects, output, all)
	if err != nil {
		return res, err
	}
	m.publish(TopicLinkCompleted, map[string]any{
		"output":  output,
		"success": res.Success,
	})
	return res, nil
}

// CheckResult is the availability of one dialect's assembler.
type CheckResult struct {
	Dialect toolchain.Dialect
	toolchain.Availability
}

// Check probes the assemblers for dialects, or for every dialect when
// none are given.
func (m *Manager) Check(ctx context.Context, dialects ...toolchain.Dialect) []CheckResult {
	if len(dialects) == 0 {
		dialects = toolchain.Dialects
	}
	results := make([]CheckResult, len(dialects))
	var wg sync.WaitGroup
	for i, d := range dialects {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = CheckResult{Dialect: d, Availability: m.assembler.CheckAssembler(ctx, d)}
		}()
	}
	wg.Wait()

	m.publish(TopicToolchainChecked, map[string]any{
		"available": lo.CountBy(results, func(r CheckResult) bool { return r.Available }),
		"checked":   len(results),
	})
	return results
}

// Watch rebuilds cfg whenever its source changes until ctx ends.
// onResult receives every build outcome.
func (m *Manager) Watch(ctx context.Context, cfg toolchain.BuildConfig, onResult func(toolchain.BuildResult, error)) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	w, err := toolchain.NewWatcher(func(path string) {
		m.publish(TopicWatchChanged, map[string]any{"path": path})
		res, err := m.Build(ctx, cfg)
		onResult(res, err)
	},
		toolchain.WithWatchDelay(m.cfg.Toolchain.WatchDelay.Std()),
		toolchain.WithWatchClock(m.clock),
		toolchain.WithWatchLogger(m.logger.Named("watch")),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(cfg.Source); err != nil {
		return err
	}
	return w.Run(ctx)
}

// DebugOptions returns the session timings from the configuration.
func (m *Manager) DebugOptions() gdb.Options {
	d := m.cfg.Debug
	return gdb.Options{
		GDBPath:        d.GDBPath,
		CommandTimeout: d.CommandTimeout.Std(),
		SettleDelay:    d.SettleDelay.Std(),
		CommandDelay:   d.CommandDelay.Std(),
		WaitForPrompt:  d.WaitForPrompt,
		StopTimeout:    d.StopTimeout.Std(),
	}
}

// StartDebug creates a session, starts it with lc and tracks it until
// the debugger exits.
func (m *Manager) StartDebug(ctx context.Context, lc gdb.LaunchConfig) (*gdb.Session, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	s := gdb.NewSession(m.spawn,
		gdb.WithOptions(m.DebugOptions()),
		gdb.WithClock(m.clock),
		gdb.WithLogger(m.logger.Named("gdb")),
	)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if err := s.Start(ctx, lc); err != nil {
		m.removeSession(s.ID())
		_ = s.Stop(context.Background())
		return nil, err
	}

	m.publish(TopicDebugStarted, map[string]any{
		"session": s.ID(),
		"name":    lc.Name,
		"program": lc.Program,
	})
	go func() {
		<-s.Done()
		m.removeSession(s.ID())
		m.publish(TopicDebugStopped, map[string]any{"session": s.ID()})
	}()
	return s, nil
}

// WaitForTarget blocks until the remote or emulator endpoint of lc
// accepts TCP connections. Configurations without one return at once.
func (m *Manager) WaitForTarget(ctx context.Context, lc gdb.LaunchConfig, cfg RetryConfig) error {
	var addr string
	switch {
	case lc.Remote != nil:
		addr = lc.Remote.String()
	case lc.Emulator != nil:
		port := lc.Emulator.Port
		if port == 0 {
			port = gdb.DefaultEmulatorPort
		}
		addr = net.JoinHostPort("localhost", strconv.Itoa(port))
	default:
		return nil
	}
	if cfg.Clock == nil {
		cfg.Clock = m.clock
	}
	return WaitForTarget(ctx, m.dialer, addr, cfg)
}

// Session returns the live session with the given ID.
func (m *Manager) Session(id string) (*gdb.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*gdb.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Values(m.sessions)
}

func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Close stops every debug session, then shuts down child processes.
// Processes that don't exit within the shutdown timeout are killed.
// It is safe to call Close multiple times.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.shutdown)
	m.publish(TopicManagerStopping, nil)

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for _, s := range m.Sessions() {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				m.logger.Warn("stop debug session", zap.String("session", s.ID()), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	m.supervisor.Shutdown(m.shutdownTimeout)
	m.publish(TopicManagerStopped, map[string]any{
		"uptime": m.Uptime().String(),
	})
	return nil
}

// IsClosed returns true if the manager has been closed.
func (m *Manager) IsClosed() bool {
	return m.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (m *Manager) ShutdownChan() <-chan struct{} {
	return m.shutdown
}

// Uptime returns how long the manager has been running.
func (m *Manager) Uptime() time.Duration {
	return m.clock.Since(m.startTime)
}

// Health returns the health status of integration components.
func (m *Manager) Health() HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Uptime:       m.Uptime(),
		ProcessCount: m.supervisor.Count(),
		Sessions:     len(m.Sessions()),
		Components:   make(map[string]ComponentHealth),
	}

	if m.supervisor.IsShuttingDown() || m.closed.Load() {
		status.Status = StatusDegraded
		status.Components["supervisor"] = ComponentHealth{Status: StatusDegraded, Message: "shutting down"}
	} else {
		status.Components["supervisor"] = ComponentHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d processes", status.ProcessCount),
		}
	}
	status.Components["debug"] = ComponentHealth{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d sessions", status.Sessions),
	}
	return status
}

// publish sends a copy of data stamped with the manager clock.
func (m *Manager) publish(topic string, data map[string]any) {
	if m.events == nil {
		return
	}
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["timestamp"] = m.clock.Now().UnixMilli()
	m.events.Publish(topic, payload)
}

// HealthStatus represents the health of the integration layer.
type HealthStatus struct {
	// Status is the overall health status.
	Status Status

	// Uptime is how long the manager has been running.
	Uptime time.Duration

	// ProcessCount is the number of active child processes.
	ProcessCount int

	// Sessions is the number of live debug sessions.
	Sessions int

	// Components contains health status for each component.
	Components map[string]ComponentHealth
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  Status
	Message string
}

// Status represents a health status level.
type Status int

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = iota

	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
