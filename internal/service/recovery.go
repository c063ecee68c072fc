// Package service runs the background loops that keep the Kernel's stores
// consistent outside the request path: crash recovery on startup and a
// periodic sweep that soft-deletes expired memories and expires stale
// pending rows.
package service

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// RunRecovery performs the startup recovery pass: any pending_memories or
// identity_changes row stuck in "processing" after a crash mid
// approval-commit is reverted to "pending" so a later retry can claim it,
// and vector points orphaned by a rejected or expired pending row are
// soft-deleted. Call this once, synchronously, before serving any request.
func RunRecovery(ctx context.Context, k *kernel.Kernel) error {
	n, err := k.ScanStuckProcessing(ctx)
	if err != nil {
		log.Error("recovery: scan for stuck processing rows failed", "err", err)
		return err
	}
	if n > 0 {
		log.Info("recovery: reverted stuck processing rows to pending", "count", n)
	}

	if n, err := sweepOrphanedPoints(ctx, k); err != nil {
		log.Error("recovery: orphaned point sweep failed", "err", err)
		return err
	} else if n > 0 {
		log.Info("recovery: soft-deleted points orphaned by rejected or expired rows", "count", n)
	}
	return nil
}

// sweepOrphanedPoints soft-deletes vector points whose pending row ended in
// rejected or expired: such a point can only exist if a crash interrupted
// an approval-commit between the vector write and the terminal status flip.
func sweepOrphanedPoints(ctx context.Context, k *kernel.Kernel) (int, error) {
	store := k.VectorStore()
	collection := k.Config().CollectionName()
	n := 0
	for _, status := range []model.PendingStatus{model.PendingStatusRejected, model.PendingStatusExpired} {
		rows, err := k.ListPending(ctx, status)
		if err != nil {
			return n, err
		}
		for _, row := range rows {
			point, err := store.Get(ctx, collection, row.ID)
			if err != nil {
				if errors.Is(err, registryvector.ErrPointNotFound) {
					continue
				}
				return n, err
			}
			if !point.Payload.IsActive {
				continue
			}
			if err := store.UpdatePayload(ctx, collection, row.ID, map[string]interface{}{"is_active": false}); err != nil {
				log.Error("recovery: soft-delete of orphaned point failed", "id", row.ID, "err", err)
				continue
			}
			n++
		}
	}
	return n, nil
}
