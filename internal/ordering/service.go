// Package ordering places items of ordered collections. Every write follows
// the same cycle: read the neighbours, compute a key between them, write only
// the moved item, and start over when a concurrent edit got there first.
package ordering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/domain"
)

// RetryConfig bounds the read-compute-write retries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the retry settings used by `serve`.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
	}
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Generator *fracrank.Generator
	Publisher domain.EventPublisher
	Logger    *slog.Logger
	Retry     RetryConfig

	// JitterRange > 0 computes keys with KeyBetweenJitter, spreading
	// concurrent writers over that many digits around the midpoint.
	JitterRange int
	Jitter      fracrank.Jitter

	// AutoRebalance respaces a collection after a write whose key is longer
	// than the generator's MaxRankLength.
	AutoRebalance bool
}

// Service orders items in a domain.ItemStore.
type Service struct {
	store   domain.ItemStore
	gen     *fracrank.Generator
	events  domain.EventPublisher
	breaker circuitbreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
	retry   RetryConfig
	jitter  fracrank.Jitter
	spread  int
	rebal   bool
	now     func() time.Time
}

// New returns a service over store.
func New(store domain.ItemStore, opts Options) *Service {
	s := &Service{
		store:  store,
		gen:    opts.Generator,
		events: opts.Publisher,
		logger: opts.Logger,
		retry:  opts.Retry,
		jitter: opts.Jitter,
		spread: opts.JitterRange,
		rebal:  opts.AutoRebalance,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if s.gen == nil {
		s.gen = fracrank.Default()
	}
	if s.events == nil {
		s.events = NopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "ordering")
	if s.retry.MaxAttempts <= 0 {
		s.retry = DefaultRetryConfig()
	}
	if s.jitter == nil {
		s.jitter = fracrank.SharedJitter{}
	}

	// opens after repeated publish failures so that writes stop waiting on a dead broker
	s.breaker = circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			s.logger.Warn("event publisher circuit state change", "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Generator returns the key generator in use.
func (s *Service) Generator() *fracrank.Generator { return s.gen }

// withRetry repeats fn while it fails with a retryable error.
func withRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	r := retry.New[T](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   domain.IsRetryable,
	})
	return r.Do(ctx, fn)
}

func (s *Service) keyBetween(a, b string) (string, error) {
	if s.spread > 0 {
		return s.gen.KeyBetweenJitter(a, b, s.jitter, s.spread)
	}
	return s.gen.KeyBetween(a, b)
}

// Append inserts id at the tail of coll. A nil id is replaced by a fresh one.
func (s *Service) Append(ctx context.Context, coll domain.Collection, id uuid.UUID) (domain.Item, error) {
	return s.insertAtEnd(ctx, coll, id, true)
}

// Prepend inserts id at the head of coll. A nil id is replaced by a fresh one.
func (s *Service) Prepend(ctx context.Context, coll domain.Collection, id uuid.UUID) (domain.Item, error) {
	return s.insertAtEnd(ctx, coll, id, false)
}

func (s *Service) insertAtEnd(ctx context.Context, coll domain.Collection, id uuid.UUID, tail bool) (domain.Item, error) {
	if err := coll.Validate(); err != nil {
		return domain.Item{}, err
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	it, err := withRetry(ctx, s.retry, func(ctx context.Context) (domain.Item, error) {
		var (
			key string
			err error
		)
		if tail {
			last, _, lerr := s.store.LastRank(ctx, coll)
			if lerr != nil {
				return domain.Item{}, lerr
			}
			key, err = s.keyBetween(last, "")
		} else {
			first, _, ferr := s.store.FirstRank(ctx, coll)
			if ferr != nil {
				return domain.Item{}, ferr
			}
			key, err = s.keyBetween("", first)
		}
		if err != nil {
			return domain.Item{}, err
		}
		it := domain.NewItem(id, coll, key, s.now())
		if err := s.store.Insert(ctx, it); err != nil {
			return domain.Item{}, err
		}
		return it, nil
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert %s into %s: %w", id, coll, err)
	}

	s.logger.Debug("item inserted", "collection", coll.String(), "item", it.ID, "rank", it.Rank)
	s.publish(ctx, domain.EventInserted, it)
	return s.afterWrite(ctx, it), nil
}

// AppendBatch inserts ids at the tail of coll in the given order, in one
// store write.
func (s *Service) AppendBatch(ctx context.Context, coll domain.Collection, ids []uuid.UUID) ([]domain.Item, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Item{}, nil
	}
	ids = append([]uuid.UUID(nil), ids...)
	for i, id := range ids {
		if id == uuid.Nil {
			ids[i] = uuid.New()
		}
	}

	items, err := withRetry(ctx, s.retry, func(ctx context.Context) ([]domain.Item, error) {
		last, _, err := s.store.LastRank(ctx, coll)
		if err != nil {
			return nil, err
		}
		var keys []string
		if s.spread > 0 {
			keys, err = s.gen.NKeysBetweenJitter(last, "", uint(len(ids)), s.jitter, s.spread)
		} else {
			keys, err = s.gen.NKeysBetween(last, "", uint(len(ids)))
		}
		if err != nil {
			return nil, err
		}
		now := s.now()
		items := make([]domain.Item, len(ids))
		for i, id := range ids {
			items[i] = domain.NewItem(id, coll, keys[i], now)
		}
		if err := s.store.Insert(ctx, items...); err != nil {
			return nil, err
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("append %d items to %s: %w", len(ids), coll, err)
	}

	for _, it := range items {
		s.publish(ctx, domain.EventInserted, it)
	}
	if s.rebal && s.gen.NeedsRebalance(items[len(items)-1].Rank) {
		if _, err := s.Rebalance(ctx, coll); err != nil {
			s.logger.Warn("auto rebalance failed", "collection", coll.String(), "error", err)
			return items, nil
		}
		return s.refresh(ctx, items), nil
	}
	return items, nil
}

// Move places id directly after the item after. uuid.Nil moves it to the
// head of its collection.
func (s *Service) Move(ctx context.Context, id, after uuid.UUID) (domain.Item, error) {
	if id == after {
		return domain.Item{}, fmt.Errorf("%w: item %s cannot follow itself", domain.ErrInvalidPosition, id)
	}
	return s.move(ctx, id, func(rest []domain.Item) (int, error) {
		if after == uuid.Nil {
			return 0, nil
		}
		for i, it := range rest {
			if it.ID == after {
				return i + 1, nil
			}
		}
		return 0, fmt.Errorf("%w: %s is not in the same collection as %s", domain.ErrInvalidPosition, after, id)
	})
}

// MoveToIndex places id at index within its collection, as a drag-and-drop
// target. Out-of-range indexes are clamped to the head or tail.
func (s *Service) MoveToIndex(ctx context.Context, id uuid.UUID, index int) (domain.Item, error) {
	return s.move(ctx, id, func(rest []domain.Item) (int, error) {
		return max(0, min(index, len(rest))), nil
	})
}

// move resolves the target slot among the other items of the collection and
// writes a key between its neighbours.
func (s *Service) move(ctx context.Context, id uuid.UUID, target func(rest []domain.Item) (int, error)) (domain.Item, error) {
	moved := false
	it, err := withRetry(ctx, s.retry, func(ctx context.Context) (domain.Item, error) {
		moved = false
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return domain.Item{}, err
		}
		list, err := s.store.List(ctx, cur.Collection)
		if err != nil {
			return domain.Item{}, err
		}

		pos := -1
		rest := make([]domain.Item, 0, len(list))
		for i, other := range list {
			if other.ID == id {
				pos = i
				continue
			}
			rest = append(rest, other)
		}
		if pos < 0 {
			// deleted or moved away between Get and List
			return domain.Item{}, fmt.Errorf("item %s left %s: %w", id, cur.Collection, domain.ErrConflict)
		}

		idx, err := target(rest)
		if err != nil {
			return domain.Item{}, err
		}
		if idx == pos {
			return cur, nil
		}

		var prev, next string
		if idx > 0 {
			prev = rest[idx-1].Rank
		}
		if idx < len(rest) {
			next = rest[idx].Rank
		}
		key, err := s.keyBetween(prev, next)
		if err != nil {
			return domain.Item{}, err
		}
		updated, err := s.store.UpdateRank(ctx, id, cur.Revision, key)
		if err != nil {
			return domain.Item{}, err
		}
		moved = true
		return updated, nil
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("move %s: %w", id, err)
	}
	if !moved {
		return it, nil
	}

	s.logger.Debug("item moved", "collection", it.Collection.String(), "item", it.ID, "rank", it.Rank, "revision", it.Revision)
	s.publish(ctx, domain.EventMoved, it)
	return s.afterWrite(ctx, it), nil
}

// Remove deletes id. The keys of its neighbours are left as they are.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	s.publish(ctx, domain.EventRemoved, it)
	return nil
}

// List returns the items of coll in order.
func (s *Service) List(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, coll)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	if items == nil {
		items = []domain.Item{}
	}
	return items, nil
}

// Rebalance rewrites the keys of coll with evenly spaced keys of equal
// length, keeping the order. Items whose key does not change keep their
// revision.
func (s *Service) Rebalance(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}

	changed := 0
	items, err := withRetry(ctx, s.retry, func(ctx context.Context) ([]domain.Item, error) {
		items, err := s.store.List(ctx, coll)
		if err != nil {
			return nil, err
		}
		keys := s.gen.Spread(len(items))
		changed = 0
		for i, it := range items {
			if it.Rank != keys[i] {
				changed++
			}
		}
		if changed == 0 {
			return items, nil
		}
		// a concurrent edit since List is ErrConflict, which restarts the cycle
		if err := s.store.ReplaceRanks(ctx, coll, domain.RankUpdatesFor(items, keys)); err != nil {
			return nil, err
		}
		return s.store.List(ctx, coll)
	})
	if err != nil {
		return nil, fmt.Errorf("rebalance %s: %w", coll, err)
	}
	if items == nil {
		items = []domain.Item{}
	}

	s.logger.Info("collection rebalanced", "collection", coll.String(), "items", len(items), "changed", changed)
	if changed > 0 {
		s.publish(ctx, domain.EventRebalanced, domain.Item{Collection: coll})
	}
	return items, nil
}

// afterWrite rebalances the collection of it once its key is too long, and
// returns the item as stored afterwards.
func (s *Service) afterWrite(ctx context.Context, it domain.Item) domain.Item {
	if !s.rebal || !s.gen.NeedsRebalance(it.Rank) {
		return it
	}
	if _, err := s.Rebalance(ctx, it.Collection); err != nil {
		s.logger.Warn("auto rebalance failed", "collection", it.Collection.String(), "error", err)
		return it
	}
	if fresh, err := s.store.Get(ctx, it.ID); err == nil {
		return fresh
	}
	return it
}

func (s *Service) refresh(ctx context.Context, items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	for i, it := range items {
		out[i] = it
		if fresh, err := s.store.Get(ctx, it.ID); err == nil {
			out[i] = fresh
		}
	}
	return out
}

// publish announces a change. A lost event only delays other views until
// their next fetch, so failures are logged and dropped.
func (s *Service) publish(ctx context.Context, typ domain.EventType, it domain.Item) {
	ev := domain.NewReorderEvent(typ, it, s.now())
	_, err := s.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.events.Publish(ctx, ev)
	})
	if err != nil {
		s.logger.Warn("failed to publish reorder event",
			"type", string(typ),
			"collection", ev.Collection,
			"item", ev.ItemID,
			"error", err)
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.ReorderEvent) error { return nil }
