package bulkscan

import (
	"context"
	"fmt"
	"log"

	"github.com/clipdeck/mediameta/internal/catalog"
)

// ResyncBatchSize is how many items each resync round asks the server to
// recompute.
const ResyncBatchSize = 100

// Maintainer is the slice of the catalog service the maintenance operations
// need. All three RPCs are idempotent server-side batch jobs; the agent only
// drives the loops.
type Maintainer interface {
	Organize(ctx context.Context) (*catalog.OrganizeResult, error)
	FixMetadata(ctx context.Context) (*catalog.FixResult, error)
	Resync(ctx context.Context, limit, offset int) (*catalog.ResyncResult, error)
}

// OrganizeAll promotes analyzed items into the public catalog, repeating
// until the server reports nothing remaining.
func OrganizeAll(ctx context.Context, m Maintainer) (int, error) {
	total := 0
	for {
		res, err := m.Organize(ctx)
		if err != nil {
			return total, fmt.Errorf("organize: %w", err)
		}
		total += res.Processed
		log.Printf("[maintenance] organize: processed=%d remaining=%d", res.Processed, res.Remaining)
		if res.Remaining <= 0 {
			return total, nil
		}
		if res.Processed == 0 {
			// Remaining items the server refuses to move; stop instead of
			// spinning on them.
			return total, fmt.Errorf("organize stalled with %d remaining", res.Remaining)
		}
	}
}

// FixBroken resets permanently broken entries back into the pending state so
// a later scan retries them.
func FixBroken(ctx context.Context, m Maintainer) (int, error) {
	res, err := m.FixMetadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("fix metadata: %w", err)
	}
	log.Printf("[maintenance] fix: reset %d broken entries", res.FixedBroken)
	return res.FixedBroken, nil
}

// ResyncAll recomputes category/pricing metadata in batches until the server
// reports zero processed.
func ResyncAll(ctx context.Context, m Maintainer) (int, error) {
	total := 0
	offset := 0
	for {
		res, err := m.Resync(ctx, ResyncBatchSize, offset)
		if err != nil {
			return total, fmt.Errorf("resync at offset %d: %w", offset, err)
		}
		if res.Processed == 0 {
			log.Printf("[maintenance] resync complete: %d items", total)
			return total, nil
		}
		total += res.Processed
		offset += ResyncBatchSize
	}
}
