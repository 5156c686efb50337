package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/store"
)

// StepError reports a failed operation. Operations before Index succeeded;
// re-running the same migrations resumes safely because every operation is
// idempotent.
type StepError struct {
	Migration string
	Index     int
	Op        Op

	// LastApplied is the index of the last operation of Migration that
	// succeeded, or -1.
	LastApplied int

	// Applied lists the migrations completed before the failure.
	Applied []string

	Err error
}

// Error reports the failed migration step and its cause.
func (e *StepError) Error() string {
	return fmt.Sprintf("lattice: migration %s step %d (%s) failed, last successful step %d: %v",
		e.Migration, e.Index, e.Op, e.LastApplied, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is reports whether target is store.ErrMigrationStep.
func (e *StepError) Is(target error) bool {
	return target == store.ErrMigrationStep
}

// Status is the applied state of one migration.
type Status struct {
	ID        string
	Applied   bool
	AppliedAt time.Time
}

// Engine applies migrations in order and records them.
type Engine struct {
	tables   *store.Tables
	recorder *Recorder
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(api store.API, config store.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	tables := store.NewTables(api, config, logger)
	return &Engine{
		tables:   tables,
		recorder: NewRecorder(api, tables),
		logger:   logger,
	}
}

// Recorder returns the history recorder.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Pending returns the migrations of migs not yet applied, in order.
func (e *Engine) Pending(ctx context.Context, migs []Migration) ([]Migration, error) {
	if err := e.recorder.Ensure(ctx); err != nil {
		return nil, err
	}
	applied, err := e.recorder.Applied(ctx)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, m := range migs {
		if _, ok := applied[m.ID()]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Status returns the applied state of every migration in migs.
func (e *Engine) Status(ctx context.Context, migs []Migration) ([]Status, error) {
	if err := e.recorder.Ensure(ctx); err != nil {
		return nil, err
	}
	applied, err := e.recorder.Applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(migs))
	for _, m := range migs {
		at, ok := applied[m.ID()]
		out = append(out, Status{ID: m.ID(), Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// Apply runs every pending migration of migs in order and returns the IDs
// applied. The first failing operation halts the run with a *StepError.
//
// Each successful operation records the table's schema version as replayed
// from migs up to that operation, so re-running a sequence after a failure
// rewrites the same versions instead of counting the repeated steps.
func (e *Engine) Apply(ctx context.Context, migs []Migration) ([]string, error) {
	if _, err := Replay(migs); err != nil {
		return nil, err
	}
	pending, err := e.Pending(ctx, migs)
	if err != nil {
		return nil, err
	}
	todo := make(map[string]bool, len(pending))
	for _, m := range pending {
		todo[m.ID()] = true
	}

	state := State{}
	var done []string
	for _, m := range migs {
		if !todo[m.ID()] {
			for _, op := range m.Ops {
				if err := op.Mutate(state); err != nil {
					return done, err
				}
			}
			continue
		}
		e.logger.Info("applying migration", "migration", m.ID(), "operations", len(m.Ops))
		if err := e.run(ctx, m, state); err != nil {
			err.Applied = done
			return done, err
		}
		if err := e.recorder.RecordApplied(ctx, m.ID()); err != nil {
			return done, fmt.Errorf("record %s: %w", m.ID(), err)
		}
		done = append(done, m.ID())
	}
	return done, nil
}

// ApplyOps runs ops against the store without recording a migration or
// touching schema versions.
func (e *Engine) ApplyOps(ctx context.Context, ops []Op) error {
	if err := e.recorder.Ensure(ctx); err != nil {
		return err
	}
	if err := e.run(ctx, Migration{Name: "adhoc", Ops: ops}, nil); err != nil {
		return err
	}
	return nil
}

// run applies m's operations in order. When state is non-nil it is advanced
// with each operation and the resulting table version is persisted.
func (e *Engine) run(ctx context.Context, m Migration, state State) *StepError {
	for i, op := range m.Ops {
		if err := op.Apply(ctx, e.tables); err != nil {
			metrics.MigrationOperations.WithLabelValues(string(op.Kind), "error").Inc()
			return &StepError{Migration: m.ID(), Index: i, Op: op, LastApplied: i - 1, Err: err}
		}
		metrics.MigrationOperations.WithLabelValues(string(op.Kind), "ok").Inc()

		version := 0
		if state != nil {
			if err := op.Mutate(state); err != nil {
				return &StepError{Migration: m.ID(), Index: i, Op: op, LastApplied: i, Err: err}
			}
			if ts, ok := state[op.Table]; ok {
				version = ts.Version
			}
			if err := e.recorder.SetVersion(ctx, op.Table, version); err != nil {
				return &StepError{Migration: m.ID(), Index: i, Op: op, LastApplied: i, Err: fmt.Errorf("record schema version: %w", err)}
			}
		}
		e.logger.Info("applied operation",
			"migration", m.ID(),
			"step", i,
			"op", op.String(),
			"schemaVersion", version,
		)
	}
	return nil
}
