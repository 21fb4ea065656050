package process

import (
	"bytes"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a run-to-completion invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs short-lived tools such as assemblers and linkers to
// completion. Processes are tracked by the Supervisor, so a supervisor
// shutdown also stops in-flight builds.
//
// Runner is safe for concurrent use; each Run spawns its own process.
type Runner struct {
	supervisor *Supervisor
	logger     *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner backed by supervisor.
func NewRunner(supervisor *Supervisor, opts ...RunnerOption) *Runner {
	r := &Runner{
		supervisor: supervisor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes spec and waits for it to exit. A non-zero exit is not an
// error; it is reported in Result.ExitCode. An error means the process
// could not be started or ctx was cancelled, in which case the process
// is killed.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := spec.Command()
	cmd.Stdin = strings.NewReader("")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	proc, err := r.supervisor.Start(spec.displayName(), cmd)
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
		return Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: time.Since(start),
		}, ctx.Err()
	}

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: proc.ExitCode(),
		Duration: time.Since(start),
	}
	r.logger.Debug("run finished",
		zap.String("name", proc.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}
