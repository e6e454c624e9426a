package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/tradedesk/papertrader/internal/database"
)

// WALCheckpointJob truncates the WAL files so they do not grow unbounded
type WALCheckpointJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(log zerolog.Logger, dbs ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
		databases: dbs,
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints every database. Failures are logged per database and the
// first one is returned.
func (j *WALCheckpointJob) Run() error {
	var firstErr error
	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint completed")
	}
	return firstErr
}
