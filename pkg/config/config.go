// Package config holds the tunables recognized by the replication log
// index, mirroring the shape of the teacher's wal.Options/DefaultOptions
// pattern (pkg/wal/options.go).
package config

import "time"

// Config collects every option named in spec.md §6.
type Config struct {
	// Stride is the target retained-entry interval within a bucket.
	Stride uint64

	// MaxMappings caps the number of retained entries per bucket.
	MaxMappings int

	// MaxDistance caps the physical LSN span (in bytes) a single bucket
	// may cover.
	MaxDistance uint64

	// LogCacheSize is the capacity of the LogItemCache.
	LogCacheSize int

	// WaitConsistencyTimeout bounds how long awaitConsistency will wait
	// for each sequential VLSN before giving up.
	WaitConsistencyTimeout time.Duration

	// MinIndexSize sets truncate-from-head's floor: deleteEnd must be
	// below Last-MinIndexSize, or below LastSync when that is higher.
	MinIndexSize uint64

	// RollbackTxnLimit caps the number of durable commits hard recovery
	// is allowed to discard. Ignored when RollbackDisabled is true.
	RollbackTxnLimit int
	RollbackDisabled bool

	// LeaseDuration is how long the feeder manager keeps a disconnected
	// client's backup handle alive, waiting for reconnect.
	LeaseDuration time.Duration

	// MaxMessageSize is the configured upper bound on a single protocol
	// message body. Neither pkg/matchpoint's nor pkg/feeder's framing
	// code reads it; message bodies are not checked against it.
	MaxMessageSize uint32
}

// Default returns a configuration suitable for a single-node development
// setup, analogous to wal.DefaultOptions().
func Default() Config {
	return Config{
		Stride:                 10,
		MaxMappings:            512,
		MaxDistance:            4 * 1024 * 1024,
		LogCacheSize:           1024,
		WaitConsistencyTimeout: 5 * time.Second,
		MinIndexSize:           1000,
		RollbackTxnLimit:       100,
		RollbackDisabled:       false,
		LeaseDuration:          30 * time.Second,
		MaxMessageSize:         16 * 1024 * 1024,
	}
}
