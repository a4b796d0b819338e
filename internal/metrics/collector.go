package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// A nil function means the source is not configured.
type StatsSource struct {
	ArchivedCount   func() int
	StreamConnected func() bool
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	if src.ArchivedCount != nil {
		ArchivedRecordsTotal.Set(float64(src.ArchivedCount()))
	}
	if src.StreamConnected != nil {
		if src.StreamConnected() {
			StreamConnectionState.Set(1)
		} else {
			StreamConnectionState.Set(0)
		}
	}
}
