package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
)

// AllPages requests every page of a collection.
const AllPages = -1

// maxPageSentinel bounds the fetch loop when every page is requested.
const maxPageSentinel = 1_000_000

// Collection is the local store of one cached collection.
//
// Reset empties the collection and leaves the known total unknown so a failed first fetch is retried as a hard refresh.
// Seed replaces every cached item and the known total in one transaction.
// Append writes items at offset and must fail with [shared.ErrStaleAppend] when offset is not the current cache size.
type Collection[T any] interface {
	Snapshot(ctx context.Context) (models.PageState, error)
	Reset(ctx context.Context, refreshedAt time.Time) error
	Seed(ctx context.Context, items []T, total int) error
	Append(ctx context.Context, offset int, items []T) error
}

// FetchFunc retrieves one remote page.
type FetchFunc[T any] func(ctx context.Context, limit, offset int) (*models.Page[T], error)

// Policy sets the page size and expiry of one collection kind.
type Policy struct {
	PageSize int
	Expiry   time.Duration
}

// Report describes what one EnsurePage call did.
type Report[T any] struct {
	HardRefresh bool
	Fetched     int
	Added       []T
	State       models.PageState
}

// Synchronizer ensures pages of collections that share a [Policy].
type Synchronizer[T any] struct {
	policy Policy
	now    func() time.Time
	logger *log.Logger
}

// NewSynchronizer creates a [Synchronizer]. A nil logger discards output.
func NewSynchronizer[T any](policy Policy, logger *log.Logger) *Synchronizer[T] {
	if logger == nil {
		logger = log.New(nopWriter{})
	}
	return &Synchronizer[T]{policy: policy, now: time.Now, logger: logger}
}

// WithClock replaces the time source.
func (s *Synchronizer[T]) WithClock(now func() time.Time) *Synchronizer[T] {
	s.now = now
	return s
}

// Policy returns the page size and expiry in use.
func (s *Synchronizer[T]) Policy() Policy {
	return s.policy
}

// EnsurePage makes the cached prefix of collection cover the 1-indexed page, or every page when page <= 0.
//
// Each fetched page is committed before the next request so an interrupted call resumes from the cached size.
func (s *Synchronizer[T]) EnsurePage(ctx context.Context, collection Collection[T], page int, fetch FetchFunc[T]) (*Report[T], error) {
	if s.policy.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive", shared.ErrInvalidConfig)
	}

	state, err := collection.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache state: %w", err)
	}

	report := &Report[T]{}
	now := s.now()

	if s.stale(state, now) {
		if err := collection.Reset(ctx, now); err != nil {
			return nil, fmt.Errorf("failed to reset cache: %w", err)
		}
		s.logger.Debug("hard refresh", "known_total", state.KnownTotal, "last_refreshed_at", state.LastRefreshedAt)
		state = models.PageState{Cached: 0, KnownTotal: -1, LastRefreshedAt: now}
		report.HardRefresh = true
	} else if s.sufficient(state, page) {
		report.State = state
		return report, nil
	}

	size := s.policy.PageSize

	if state.Cached == 0 {
		first, err := fetch(ctx, size, 0)
		if err != nil {
			return report, fmt.Errorf("failed to fetch first page: %w", err)
		}
		report.Fetched++

		if err := collection.Seed(ctx, first.Items, first.Total); err != nil {
			return report, fmt.Errorf("failed to store first page: %w", err)
		}
		report.Added = append(report.Added, first.Items...)
		state.Cached, state.KnownTotal = len(first.Items), first.Total
	}

	upper := page
	if upper <= 0 {
		upper = maxPageSentinel
	}
	upper = min(upper, ceilDiv(state.KnownTotal, size))
	target := min(upper*size, state.KnownTotal)

	// Offsets follow the stored size so a short page never leaves a gap.
	for state.Cached < target {
		offset := state.Cached
		next, err := fetch(ctx, size, offset)
		if err != nil {
			return report, fmt.Errorf("failed to fetch page at offset %d: %w", offset, err)
		}
		report.Fetched++

		if len(next.Items) == 0 {
			break
		}
		if err := collection.Append(ctx, offset, next.Items); err != nil {
			return report, fmt.Errorf("failed to append page at offset %d: %w", offset, err)
		}
		report.Added = append(report.Added, next.Items...)
		state.Cached += len(next.Items)
	}

	s.logger.Debug("ensured page", "page", page, "fetched", report.Fetched, "cached", state.Cached, "total", state.KnownTotal)
	report.State = state
	return report, nil
}

func (s *Synchronizer[T]) stale(state models.PageState, now time.Time) bool {
	if state.KnownTotal < 0 {
		return true
	}
	return !state.LastRefreshedAt.Add(s.policy.Expiry).After(now)
}

func (s *Synchronizer[T]) sufficient(state models.PageState, page int) bool {
	size := s.policy.PageSize
	switch {
	case page <= 0:
		return state.Complete()
	case state.KnownTotal > 0:
		if state.Cached <= (page-1)*size {
			return false
		}
		if state.Cached >= state.KnownTotal || state.Cached >= page*size {
			return true
		}
		// A partial cache still satisfies the page at the edge of what is known.
		return (page+1)*size > state.KnownTotal
	default:
		return true
	}
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
