// internal/requests/ranking.go
package requests

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/failure"
	"libracirc/internal/metrics"
)

// Partition splits items into available and unavailable, keeping input order.
func Partition(items []Item) (available, unavailable []Item) {
	for _, item := range items {
		if item.Available() {
			available = append(available, item)
		} else {
			unavailable = append(unavailable, item)
		}
	}
	return available, unavailable
}

// RankAvailable puts items whose home location is served by the pickup
// service point first. Order within each group is preserved.
func RankAvailable(items []Item, pickupServicePointID uuid.UUID) []Item {
	ranked := make([]Item, 0, len(items))
	var rest []Item
	for _, item := range items {
		if item.HomeLocationIsServedBy(pickupServicePointID) {
			ranked = append(ranked, item)
		} else {
			rest = append(rest, item)
		}
	}
	return append(ranked, rest...)
}

// Ranker orders unavailable items by how soon they are likely to free up.
type Ranker struct {
	queues QueueSource
	logger *zap.Logger
	tracer trace.Tracer
}

func NewRanker(queues QueueSource, logger *zap.Logger) *Ranker {
	return &Ranker{
		queues: queues,
		logger: logger,
		tracer: otel.Tracer("libracirc/requests"),
	}
}

type queuedItem struct {
	item  Item
	queue *RequestQueue
}

// RankUnavailable fetches every item's request queue concurrently and sorts
// the items by queue size, then by the expiration of the queue's lowest
// priority fulfillable request. Items whose queue cannot be fetched are
// dropped. If ctx is cancelled nothing is returned.
func (r *Ranker) RankUnavailable(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "requests.rank_unavailable",
		trace.WithAttributes(attribute.Int("items.count", len(items))))
	defer span.End()

	queues := make([]*RequestQueue, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			q, err := r.queues.RequestQueue(gctx, item.ID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				metrics.RankingFetchFailuresTotal.Inc()
				r.logger.Warn("excluding item from ranking, request queue unavailable",
					zap.String("item_id", item.ID.String()),
					zap.Error(err),
				)
				return nil
			}
			queues[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, failure.Collaborator("request queue", failure.ErrRankingAborted, err)
	}

	ranked := make([]queuedItem, 0, len(items))
	for i, q := range queues {
		if q != nil {
			ranked = append(ranked, queuedItem{item: items[i], queue: q})
		}
	}
	slices.SortStableFunc(ranked, compareQueues)

	out := make([]Item, len(ranked))
	for i, qi := range ranked {
		out[i] = qi.item
	}
	span.SetAttributes(attribute.Int("items.ranked", len(out)))
	return out, nil
}

func compareQueues(a, b queuedItem) int {
	if c := cmp.Compare(a.queue.Size(), b.queue.Size()); c != 0 {
		return c
	}
	return compareExpiration(expirationOf(a.queue), expirationOf(b.queue))
}

func expirationOf(q *RequestQueue) *time.Time {
	if r := q.LowestPriorityFulfillableRequest(); r != nil {
		return r.RequestExpirationDate
	}
	return nil
}

// a missing expiration sorts after any present one
func compareExpiration(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}
