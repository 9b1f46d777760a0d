package store

import (
	"os"
	"time"
)

// #region run-record
// RunRecord is one fuzzing session. Productions logged during the session carry its RunID.
type RunRecord struct {
	RunID      string
	Label      string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is active
}

// Finished reports whether FinishRun was called for the run.
func (r RunRecord) Finished() bool { return !r.FinishedAt.IsZero() }
// #endregion run-record

// #region config
// Config locates the run database.
type Config struct {
	Path string
}

// DefaultConfig reads FUZZCTL_DB, falling back to fuzzctl.db in the working directory.
func DefaultConfig() Config {
	path := "fuzzctl.db"
	if v := os.Getenv("FUZZCTL_DB"); v != "" {
		path = v
	}
	return Config{Path: path}
}
// #endregion config
