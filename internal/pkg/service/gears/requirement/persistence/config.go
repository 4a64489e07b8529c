package persistence

import "time"

type Config struct {
	SnapshotInterval  time.Duration `configKey:"snapshotInterval" configUsage:"Interval of periodic snapshots, the journal is truncated after a snapshot." validate:"minDuration=1s,maxDuration=24h"`
	AllowTruncatedLog bool          `configKey:"allowTruncatedLog" configUsage:"Drop an incomplete last journal record on load, otherwise the load fails."`
}

func NewConfig() Config {
	return Config{
		SnapshotInterval:  5 * time.Minute,
		AllowTruncatedLog: true,
	}
}
