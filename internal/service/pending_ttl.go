package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registrymetadata "github.com/bao243092078-crypto/memory-anchor/internal/registry/metadata"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// PendingTTLService periodically sweeps the Vector Store for points whose
// expires_at has passed and flips them is_active=false, so search_memory's
// is_active=true filter stops surfacing them without a hard delete.
type PendingTTLService struct {
	k         *kernel.Kernel
	interval  time.Duration
	batchSize int
}

// NewPendingTTLService builds the service from the Kernel's own config
// (EvictionInterval/IndexerBatchSize), mirroring how the source eviction
// loop sizes its own batches and cadence.
func NewPendingTTLService(k *kernel.Kernel) *PendingTTLService {
	cfg := k.Config()
	interval := time.Duration(cfg.EvictionInterval) * time.Second
	batch := cfg.IndexerBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &PendingTTLService{k: k, interval: interval, batchSize: batch}
}

// Start runs the TTL sweep on a ticker until ctx is canceled.
func (s *PendingTTLService) Start(ctx context.Context) {
	if s == nil || s.k == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				log.Error("pending ttl: sweep failed", "err", err)
			}
		}
	}
}

// runOnce expires and soft-deletes points past their expires_at, and scans
// for metadata rows stuck in processing (complementing the one-shot startup
// recovery pass with a periodic catch-all).
func (s *PendingTTLService) runOnce(ctx context.Context) error {
	store := s.k.VectorStore()
	collection := s.k.Config().CollectionName()
	now := time.Now().UTC().Unix()

	filter := registryvector.And(
		registryvector.Predicate{Field: "is_active", Op: registryvector.OpEquals, Value: true},
		registryvector.Predicate{Field: "expires_at", Op: registryvector.OpRange, Lte: now},
	)

	n := 0
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		page, err := store.Scroll(ctx, collection, filter, cursor, s.batchSize)
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			if err := store.UpdatePayload(ctx, collection, p.ID, map[string]interface{}{
				"is_active": false,
			}); err != nil {
				log.Error("pending ttl: soft-delete failed", "id", p.ID, "err", err)
				continue
			}
			n++
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	if n > 0 {
		log.Info("pending ttl: soft-deleted expired memories", "count", n)
	}

	if stuck, err := s.k.ScanStuckProcessing(ctx); err != nil {
		log.Error("pending ttl: stuck-processing scan failed", "err", err)
	} else if stuck > 0 {
		log.Info("pending ttl: reverted stuck processing rows to pending", "count", stuck)
	}

	if expired, err := s.expireStalePending(ctx); err != nil {
		log.Error("pending ttl: stale pending expiry failed", "err", err)
	} else if expired > 0 {
		log.Info("pending ttl: expired stale pending memories", "count", expired)
	}
	return nil
}

// expireStalePending transitions pending rows older than the eviction
// retention window to expired. The transition goes through TryLock so a
// concurrent approver mid-commit wins the race cleanly.
func (s *PendingTTLService) expireStalePending(ctx context.Context) (int, error) {
	retention := time.Duration(s.k.Config().EvictionRetention) * time.Second
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)

	rows, err := s.k.ListPending(ctx, model.PendingStatusPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		if !row.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.k.MetadataStore().TryLock(ctx, "pending_memories", row.ID,
			string(model.PendingStatusPending), string(model.PendingStatusExpired)); err != nil {
			if err == registrymetadata.ErrNoRow {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
