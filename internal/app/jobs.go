/**
 * @description
 * Scheduled catch-up work. Webhooks can be lost (endpoint downtime, aggregator
 * delivery gaps), so a cron job periodically re-syncs active connections whose
 * last successful sync is older than a staleness threshold. This bounds the
 * window in which the ledger can silently drift from the aggregator.
 */

package app

import (
	"context"
	"log"
	"time"
)

// CatchupStaleSyncs re-syncs every active connection that has not completed a
// sync since the staleness threshold. One connection failing does not stop
// the sweep.
func (s *Service) CatchupStaleSyncs(ctx context.Context, staleAfter time.Duration) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	connections, err := s.repo.ListStaleActiveConnections(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=service flow=catchup msg=\"failed to list stale connections\" err=%v", err)
		return
	}
	if len(connections) == 0 {
		return
	}

	log.Printf("level=info component=service flow=catchup msg=\"starting catch-up sweep\" stale_connections=%d cutoff=%s", len(connections), cutoff.Format(time.RFC3339))
	for i := range connections {
		conn := connections[i]
		if _, err := s.RunSync(ctx, &conn); err != nil {
			log.Printf("level=warn component=service flow=catchup msg=\"catch-up sync failed\" connection_id=%s err=%v", conn.ID, err)
		}
	}
}
