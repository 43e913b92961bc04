// Package audit records reconciliation runs and their executed commands
// in Postgres. The trail answers "what changed the directory and when"
// after the fact; it is strictly best-effort and never influences a
// run's outcome.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/command"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      UUID PRIMARY KEY,
	direction   TEXT NOT NULL,
	dry_run     BOOLEAN NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	commands    INTEGER,
	failed      INTEGER,
	ratio       DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS run_commands (
	run_id      UUID NOT NULL REFERENCES runs (run_id),
	executed_at TIMESTAMPTZ NOT NULL,
	verb        TEXT NOT NULL,
	target      TEXT NOT NULL,
	description TEXT NOT NULL,
	error       TEXT
);
`

// Recorder implements the engine's audit hook over a pgx pool.
type Recorder struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// Connect opens the pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Recorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Recorder{pool: pool}, nil
}

func (r *Recorder) Close() {
	r.pool.Close()
}

// RunStarted opens a new run row. Failures are logged and swallowed;
// the reconciliation must not depend on the audit store.
func (r *Recorder) RunStarted(ctx context.Context, direction string, dryRun bool) {
	r.runID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO runs (run_id, direction, dry_run, started_at)
		VALUES ($1, $2, $3, $4)
	`, r.runID, direction, dryRun, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("audit: recording run start failed")
	}
}

// CommandResult records one executed command and its outcome.
func (r *Recorder) CommandResult(ctx context.Context, cmd *command.Command, execErr error) {
	var errText *string
	if execErr != nil {
		msg := execErr.Error()
		errText = &msg
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO run_commands (run_id, executed_at, verb, target, description, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.runID, time.Now(), cmd.Verb(), cmd.TargetName(), cmd.Description(), errText)
	if err != nil {
		log.Warn().Err(err).Str("command", cmd.Description()).
			Msg("audit: recording command failed")
	}
}

// RunFinished closes the run row with its totals.
func (r *Recorder) RunFinished(ctx context.Context, total, failed int, ratio float64) {
	_, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET finished_at = $1, commands = $2, failed = $3, ratio = $4
		WHERE run_id = $5
	`, time.Now(), total, failed, ratio, r.runID)
	if err != nil {
		log.Warn().Err(err).Msg("audit: recording run finish failed")
	}
}
