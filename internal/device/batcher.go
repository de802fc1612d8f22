package device

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/metrics"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
)

// Batcher accumulates plate detections and persists them in transactional
// batches: a batch flushes when it reaches size or when interval elapses
// with at least one pending detection, whichever comes first.
type Batcher struct {
	store    storage.Store
	size     int
	interval time.Duration

	incoming chan *models.Traffic
}

// NewBatcher returns an idle batcher. The caller starts it with Run.
func NewBatcher(store storage.Store, size int, interval time.Duration) *Batcher {
	return &Batcher{
		store:    store,
		size:     size,
		interval: interval,
		incoming: make(chan *models.Traffic, size*4),
	}
}

// Enqueue adds one detection. It never blocks: when the buffer is full the
// detection is dropped and counted, protecting the read path from a slow
// database.
func (b *Batcher) Enqueue(t *models.Traffic) {
	select {
	case b.incoming <- t:
	default:
		metrics.DroppedMessages.Inc()
		log.Warn().Int64("camera_id", t.CameraID).Msg("Detection buffer full, dropping detection")
	}
}

// Run drains the incoming channel until ctx ends, then performs a final
// flush of whatever is pending.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	pending := make([]*models.Traffic, 0, b.size)
	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), pending)
			return
		case t := <-b.incoming:
			pending = append(pending, t)
			if len(pending) >= b.size {
				b.flush(ctx, pending)
				pending = pending[:0]
				ticker.Reset(b.interval)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				b.flush(ctx, pending)
				pending = pending[:0]
			}
		}
	}
}

// flush writes one batch inside a single transaction. On any error the
// transaction rolls back and the batch is dropped: detections are telemetry,
// losing a batch must never wedge the pipeline.
func (b *Batcher) flush(ctx context.Context, batch []*models.Traffic) {
	if len(batch) == 0 {
		return
	}

	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		metrics.BatchFlushes.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to begin detection batch")
		return
	}

	for _, t := range batch {
		if err := tx.CreateTraffic(ctx, t); err != nil {
			tx.Rollback()
			metrics.BatchFlushes.WithLabelValues("error").Inc()
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to store detection batch")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.BatchFlushes.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to commit detection batch")
		return
	}

	metrics.BatchFlushes.WithLabelValues("ok").Inc()
	log.Debug().Int("batch_size", len(batch)).Msg("Detection batch stored")
}
