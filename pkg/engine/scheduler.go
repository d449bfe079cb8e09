package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/partcraft/partcraft/pkg/telemetry"
)

// BuildStep runs one part's build with its resolved environment. It is the
// boundary to the plugin layer.
type BuildStep interface {
	Build(ctx context.Context, part *Part, env ResolvedEnvironment) error
}

// Recorder persists the progress of build sessions.
type Recorder interface {
	SessionStarted(ctx context.Context, session *Session) error
	PartStarted(ctx context.Context, sessionID, part string, position int) error
	EnvironmentResolved(ctx context.Context, sessionID, part string, env ResolvedEnvironment) error
	PartFinished(ctx context.Context, sessionID string, result PartResult) error
	SessionFinished(ctx context.Context, session *Session) error
}

// ScriptStep builds parts through the shell. A part with an override-build
// script runs it in the part's build directory with the environment
// exported; a part using the nil plugin without a script builds nothing.
type ScriptStep struct {
	// Shell is the interpreter path. Empty means DefaultShell.
	Shell string

	// Environ is the environment the script inherits. Nil inherits the
	// current process environment.
	Environ []string

	// Stdout and Stderr receive the script's output. Nil discards stdout
	// and keeps stderr for the error message.
	Stdout io.Writer
	Stderr io.Writer
}

// Build implements BuildStep.
func (s *ScriptStep) Build(ctx context.Context, part *Part, env ResolvedEnvironment) error {
	if part.OverrideBuild == "" {
		if part.Plugin == "" || part.Plugin == "nil" {
			return nil
		}
		return NewPermanentError(fmt.Sprintf("plugin %q requires an external build step", part.Plugin), nil).
			WithCode(ErrCodeBuildStepFailed).WithPart(part.Name)
	}

	for _, dir := range []string{part.BuildDir, part.InstallDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return NewPermanentError("failed to prepare part directory", err).
				WithCode(ErrCodeBuildStepFailed).WithPart(part.Name).WithPath(dir)
		}
	}

	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", RenderScript(env, part.OverrideBuild))
	cmd.Dir = part.BuildDir
	cmd.Env = s.Environ
	cmd.Stdout = s.Stdout

	var stderr bytes.Buffer
	if s.Stderr != nil {
		cmd.Stderr = io.MultiWriter(s.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return NewCanceledError("build step interrupted", ctx.Err()).WithPart(part.Name)
		}
		return NewPermanentError("build step failed", err).
			WithCode(ErrCodeBuildStepFailed).WithPart(part.Name).
			WithDetail("stderr", lastLines(stderr.String(), 20))
	}
	return nil
}

// BuildScheduler runs the build steps of a dependency graph. Parts start as
// soon as every dependency has completed, at most maxParallel at a time.
// The first failure stops new parts from starting; parts already running
// finish and the rest are reported as skipped.
type BuildScheduler struct {
	builder     *EnvironmentBuilder
	step        BuildStep
	recorder    Recorder
	telemetry   *telemetry.Telemetry
	maxParallel int
	targets     []string
}

// SchedulerOption configures a BuildScheduler.
type SchedulerOption func(*BuildScheduler)

// WithMaxParallel bounds the number of concurrent part builds.
func WithMaxParallel(n int) SchedulerOption {
	return func(s *BuildScheduler) {
		s.maxParallel = max(n, 1)
	}
}

// WithRecorder persists session progress through r.
func WithRecorder(r Recorder) SchedulerOption {
	return func(s *BuildScheduler) {
		s.recorder = r
	}
}

// WithTelemetry instruments sessions with logs, spans and metrics.
func WithTelemetry(t *telemetry.Telemetry) SchedulerOption {
	return func(s *BuildScheduler) {
		s.telemetry = t
	}
}

// WithTargets restricts a session to the named parts and their transitive
// dependencies.
func WithTargets(parts ...string) SchedulerOption {
	return func(s *BuildScheduler) {
		s.targets = parts
	}
}

// NewBuildScheduler creates a scheduler. Parts are built one at a time
// unless WithMaxParallel raises the limit.
func NewBuildScheduler(builder *EnvironmentBuilder, step BuildStep, opts ...SchedulerOption) *BuildScheduler {
	s := &BuildScheduler{
		builder:     builder,
		step:        step,
		telemetry:   telemetry.Nop(),
		maxParallel: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run builds the parts of graph. The build order is computed before any
// part starts; a cycle or unknown dependency aborts the session without
// building anything and without recording it. The returned session is
// complete even when err is non-nil.
func (s *BuildScheduler) Run(ctx context.Context, graph *DependencyGraph) (*Session, error) {
	order, err := s.selectParts(graph)
	if err != nil {
		s.telemetry.Metrics.RecordError(ErrorCode(err))
		return nil, err
	}

	session := &Session{
		ID:        uuid.New().String(),
		Project:   s.builder.Project().Name,
		Status:    SessionStatusRunning,
		Order:     order,
		StartedAt: time.Now().UTC(),
		Results:   make([]PartResult, len(order)),
	}
	for i, name := range order {
		session.Results[i] = PartResult{Part: name, Position: i, Status: PartStatusPending}
	}

	logger := s.telemetry.Logger.NewComponentLogger("scheduler").WithSessionID(session.ID)
	ctx, span := s.telemetry.Tracer.StartSessionSpan(ctx, session.ID, session.Project)
	defer span.End()

	s.telemetry.Metrics.RecordSessionStarted(session.Project, len(order), s.maxParallel)
	s.record(logger, "session start", func(r Recorder) error { return r.SessionStarted(ctx, session) })
	logger.Infof("building %d parts with up to %d in parallel", len(order), s.maxParallel)

	runErr := s.execute(ctx, graph, session, logger)

	completed := time.Now().UTC()
	session.CompletedAt = &completed
	switch {
	case runErr == nil:
		session.Status = SessionStatusSucceeded
	case ctx.Err() != nil:
		session.Status = SessionStatusAborted
		session.Error = runErr.Error()
	default:
		session.Status = SessionStatusFailed
		session.Error = runErr.Error()
	}

	s.record(logger, "session finish", func(r Recorder) error { return r.SessionFinished(context.WithoutCancel(ctx), session) })
	s.telemetry.Metrics.RecordSessionCompleted(string(session.Status), completed.Sub(session.StartedAt))
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		logger.WithError(runErr).Error("build session failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.Info("build session succeeded")
	}
	return session, runErr
}

// selectParts returns the build order restricted to the targets and their
// transitive dependencies.
func (s *BuildScheduler) selectParts(graph *DependencyGraph) ([]string, error) {
	order, err := graph.OrderNames()
	if err != nil {
		return nil, err
	}
	if len(s.targets) == 0 {
		return order, nil
	}

	wanted := make(map[string]bool)
	for _, target := range s.targets {
		deps, err := graph.DependenciesOf(target, true)
		if err != nil {
			return nil, err
		}
		wanted[target] = true
		for _, dep := range deps {
			wanted[dep.Name] = true
		}
	}
	return slices.DeleteFunc(order, func(name string) bool { return !wanted[name] }), nil
}

// execute dispatches parts as their dependencies complete.
func (s *BuildScheduler) execute(ctx context.Context, graph *DependencyGraph, session *Session, logger *telemetry.Logger) error {
	position := make(map[string]int, len(session.Order))
	for i, name := range session.Order {
		position[name] = i
	}

	pending := make(map[string]int, len(session.Order))
	var ready []string
	for _, name := range session.Order {
		deps, _ := graph.DependenciesOf(name, false)
		pending[name] = len(deps)
		if len(deps) == 0 {
			ready = append(ready, name)
		}
	}

	var (
		mu        sync.Mutex
		g         errgroup.Group
		completed = make(chan string, len(session.Order))
		running   int
		stopped   bool
		firstErr  error
	)
	g.SetLimit(s.maxParallel)
	done := ctx.Done()

	for {
		for !stopped && len(ready) > 0 && running < s.maxParallel {
			name := ready[0]
			ready = ready[1:]
			running++

			pos := position[name]
			mu.Lock()
			session.Results[pos].Status = PartStatusRunning
			mu.Unlock()

			g.Go(func() error {
				result := s.buildPart(ctx, graph, session.ID, name, pos, logger)
				mu.Lock()
				session.Results[pos] = result
				mu.Unlock()
				completed <- name
				if result.Status != PartStatusSucceeded {
					return fmt.Errorf("part %s: %s", name, result.Error)
				}
				return nil
			})
		}

		if running == 0 {
			break
		}

		select {
		case name := <-completed:
			running--
			mu.Lock()
			ok := session.Results[position[name]].Status == PartStatusSucceeded
			mu.Unlock()
			if !ok {
				stopped = true
				continue
			}
			for _, dependent := range graph.Dependents(name) {
				if _, selected := pending[dependent]; !selected {
					continue
				}
				pending[dependent]--
				if pending[dependent] == 0 {
					ready = insertByPosition(ready, dependent, position)
				}
			}
		case <-done:
			// Running steps observe ctx themselves; keep draining.
			stopped = true
			firstErr = NewCanceledError("build session canceled", ctx.Err())
			done = nil
		}
	}

	waitErr := g.Wait()
	s.skipRemaining(ctx, session, logger)
	switch {
	case ctx.Err() != nil && firstErr == nil:
		return NewCanceledError("build session canceled", ctx.Err())
	case firstErr != nil:
		return firstErr
	}
	return waitErr
}

func insertByPosition(names []string, name string, position map[string]int) []string {
	i, _ := slices.BinarySearchFunc(names, name, func(a, b string) int {
		return position[a] - position[b]
	})
	return slices.Insert(names, i, name)
}

// buildPart resolves a part's environment and runs its build step.
func (s *BuildScheduler) buildPart(ctx context.Context, graph *DependencyGraph, sessionID, name string, pos int, logger *telemetry.Logger) PartResult {
	part, _ := graph.Part(name)
	partLogger := logger.WithPart(name)

	ctx, span := s.telemetry.Tracer.StartPartSpan(ctx, sessionID, name, part.Plugin)
	defer span.End()

	result := PartResult{Part: name, Position: pos, StartedAt: time.Now().UTC()}
	s.telemetry.Metrics.RecordPartStarted()
	s.record(partLogger, "part start", func(r Recorder) error { return r.PartStarted(ctx, sessionID, name, pos) })
	partLogger.Info("building part")

	err := s.buildWithEnvironment(ctx, sessionID, part, partLogger)

	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		result.Status = PartStatusFailed
		result.Error = err.Error()
		s.telemetry.Metrics.RecordError(ErrorCode(err))
		telemetry.RecordError(span, err)
		partLogger.WithError(err).Error("part build failed")
	} else {
		result.Status = PartStatusSucceeded
		telemetry.RecordSuccess(span)
		partLogger.Infof("part built in %s", result.Duration.Round(time.Millisecond))
	}

	s.telemetry.Metrics.RecordPartBuild(part.Plugin, string(result.Status), result.Duration)
	s.record(partLogger, "part finish", func(r Recorder) error {
		return r.PartFinished(context.WithoutCancel(ctx), sessionID, result)
	})
	return result
}

func (s *BuildScheduler) buildWithEnvironment(ctx context.Context, sessionID string, part *Part, logger *telemetry.Logger) error {
	_, span := s.telemetry.Tracer.StartEnvironmentSpan(ctx, part.Name, true)
	timer := telemetry.NewTimer()
	env, err := s.builder.BuildEnvironmentFor(part.Name, true)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return err
	}
	span.SetAttributes(telemetry.AttrAssignments.Int(len(env)))
	span.End()
	s.telemetry.Metrics.RecordEnvironmentBuilt(true, len(env), timer.Duration())
	logger.Debugf("resolved %d environment assignments", len(env))

	s.record(logger, "environment", func(r Recorder) error {
		return r.EnvironmentResolved(ctx, sessionID, part.Name, env)
	})

	return s.step.Build(ctx, part, env)
}

// skipRemaining marks every part that never started as skipped.
func (s *BuildScheduler) skipRemaining(ctx context.Context, session *Session, logger *telemetry.Logger) {
	for i := range session.Results {
		r := &session.Results[i]
		if r.Status != PartStatusPending {
			continue
		}
		r.Status = PartStatusSkipped
		s.telemetry.Metrics.RecordPartSkipped()
		logger.WithPart(r.Part).Warn("part skipped")
		result := *r
		s.record(logger, "part skip", func(rec Recorder) error {
			return rec.PartFinished(context.WithoutCancel(ctx), session.ID, result)
		})
	}
}

// record forwards to the recorder if one is configured. Journal failures
// are logged and do not fail the build.
func (s *BuildScheduler) record(logger *telemetry.Logger, what string, fn func(Recorder) error) {
	if s.recorder == nil {
		return
	}
	if err := fn(s.recorder); err != nil {
		logger.WithError(err).Warnf("failed to record %s", what)
	}
}

// lastLines returns at most n trailing lines of s.
func lastLines(s string, n int) string {
	lines := bytes.Split(bytes.TrimRight([]byte(s), "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}

var _ BuildStep = (*ScriptStep)(nil)
