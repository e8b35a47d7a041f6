package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// maxClosedRetained bounds how many closed positions the store remembers
const maxClosedRetained = 1000

// PositionStore owns all position state.
// A single goroutine applies every mutation in arrival order, so callers never
// share a *Position with the store: reads return copies and writes go through
// explicit operations.
// ⭐ SSOT: 포지션 상태 변경은 이 스토어에서만
type PositionStore struct {
	reqs     chan func(*storeState)
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type storeState struct {
	live   map[string]*contracts.Position // OPEN + CLOSING
	closed map[string]*contracts.Position
	order  []string // closed ids, oldest first
}

// NewPositionStore starts the store goroutine
func NewPositionStore() *PositionStore {
	s := &PositionStore{
		reqs: make(chan func(*storeState)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *PositionStore) run() {
	defer close(s.done)
	state := &storeState{
		live:   make(map[string]*contracts.Position),
		closed: make(map[string]*contracts.Position),
	}
	for {
		select {
		case fn := <-s.reqs:
			fn(state)
		case <-s.quit:
			return
		}
	}
}

// Stop terminates the store goroutine. Later calls fail with ErrStoreClosed.
func (s *PositionStore) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

// call runs fn on the store goroutine and waits for it to finish
func (s *PositionStore) call(ctx context.Context, fn func(*storeState)) error {
	finished := make(chan struct{})
	wrapped := func(st *storeState) {
		defer close(finished)
		fn(st)
	}

	select {
	case s.reqs <- wrapped:
	case <-s.done:
		return contracts.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// once accepted the operation always completes
	<-finished
	return nil
}

// Add registers a new OPEN position
func (s *PositionStore) Add(ctx context.Context, p *contracts.Position) error {
	var err error
	callErr := s.call(ctx, func(st *storeState) {
		if _, ok := st.live[p.ID]; ok {
			err = fmt.Errorf("%w: duplicate position id %s", contracts.ErrConfiguration, p.ID)
			return
		}
		if _, ok := st.closed[p.ID]; ok {
			err = fmt.Errorf("%w: position id %s already closed", contracts.ErrConfiguration, p.ID)
			return
		}
		cp := p.Clone()
		cp.Status = contracts.StatusOpen
		st.live[cp.ID] = cp
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Snapshot returns copies of the positions currently OPEN, ordered by open time
func (s *PositionStore) Snapshot(ctx context.Context) ([]*contracts.Position, error) {
	return s.list(ctx, func(p *contracts.Position) bool { return p.Status == contracts.StatusOpen })
}

// Live returns copies of all OPEN and CLOSING positions
func (s *PositionStore) Live(ctx context.Context) ([]*contracts.Position, error) {
	return s.list(ctx, func(*contracts.Position) bool { return true })
}

func (s *PositionStore) list(ctx context.Context, keep func(*contracts.Position) bool) ([]*contracts.Position, error) {
	var out []*contracts.Position
	err := s.call(ctx, func(st *storeState) {
		out = make([]*contracts.Position, 0, len(st.live))
		for _, p := range st.live {
			if keep(p) {
				out = append(out, p.Clone())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sortPositions(out)
	return out, nil
}

// Get returns a copy of a live or retained closed position
func (s *PositionStore) Get(ctx context.Context, id string) (*contracts.Position, error) {
	var out *contracts.Position
	err := s.call(ctx, func(st *storeState) {
		if p, ok := st.live[id]; ok {
			out = p.Clone()
		} else if p, ok := st.closed[id]; ok {
			out = p.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s", contracts.ErrPositionNotFound, id)
	}
	return out, nil
}

// UpdateTrailing commits the mark and trailing state computed on a working copy.
// Positions no longer OPEN are left untouched. The floor never moves down and
// the profit peak never decreases, whatever the working copy says.
func (s *PositionStore) UpdateTrailing(ctx context.Context, working *contracts.Position) error {
	var err error
	callErr := s.call(ctx, func(st *storeState) {
		p, ok := st.live[working.ID]
		if !ok {
			err = fmt.Errorf("%w: %s", contracts.ErrPositionNotFound, working.ID)
			return
		}
		if p.Status != contracts.StatusOpen {
			return
		}

		next := working.Trailing
		if next.HighestProfitEver < p.Trailing.HighestProfitEver {
			next.HighestProfitEver = p.Trailing.HighestProfitEver
		}
		if p.Trailing.FloorActivated {
			next.FloorActivated = true
			if next.FloorUSD < p.Trailing.FloorUSD {
				next.FloorUSD = p.Trailing.FloorUSD
				next.LastRatchetTime = p.Trailing.LastRatchetTime
			}
		}
		p.Trailing = next
		p.LastPrice = working.LastPrice
		p.UnrealizedPnLUSD = working.UnrealizedPnLUSD
		p.LastEvaluatedAt = working.LastEvaluatedAt
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// BeginClose moves an OPEN position to CLOSING and returns a copy with won=true.
// When the position is already CLOSING or CLOSED the current copy is returned with
// won=false and the caller must not submit another close.
func (s *PositionStore) BeginClose(ctx context.Context, id string) (p *contracts.Position, won bool, err error) {
	callErr := s.call(ctx, func(st *storeState) {
		if cur, ok := st.live[id]; ok {
			if cur.Status == contracts.StatusOpen {
				cur.Status = contracts.StatusClosing
				won = true
			}
			p = cur.Clone()
			return
		}
		if cur, ok := st.closed[id]; ok {
			p = cur.Clone()
			return
		}
		err = fmt.Errorf("%w: %s", contracts.ErrPositionNotFound, id)
	})
	if callErr != nil {
		return nil, false, callErr
	}
	return p, won, err
}

// CompleteClose records the fill of a CLOSING position and retains it as CLOSED
func (s *PositionStore) CompleteClose(ctx context.Context, id string, reason contracts.ExitReason, exitPrice, pnl float64, closedAt time.Time) (*contracts.Position, error) {
	var out *contracts.Position
	var err error
	callErr := s.call(ctx, func(st *storeState) {
		p, ok := st.live[id]
		if !ok {
			err = fmt.Errorf("%w: %s", contracts.ErrPositionNotFound, id)
			return
		}
		if p.Status != contracts.StatusClosing {
			err = fmt.Errorf("position %s is %s, not CLOSING", id, p.Status)
			return
		}

		p.Status = contracts.StatusClosed
		p.ExitReason = reason
		p.ExitPrice = exitPrice
		p.RealizedPnLUSD = pnl
		p.ClosedAt = closedAt

		delete(st.live, id)
		st.closed[id] = p
		st.order = append(st.order, id)
		if len(st.order) > maxClosedRetained {
			delete(st.closed, st.order[0])
			st.order = st.order[1:]
		}
		out = p.Clone()
	})
	if callErr != nil {
		return nil, callErr
	}
	return out, err
}

// RollbackClose returns a CLOSING position to OPEN after a failed close
// and returns the consecutive close failure count.
func (s *PositionStore) RollbackClose(ctx context.Context, id string) (int, error) {
	var failures int
	var err error
	callErr := s.call(ctx, func(st *storeState) {
		p, ok := st.live[id]
		if !ok {
			err = fmt.Errorf("%w: %s", contracts.ErrPositionNotFound, id)
			return
		}
		if p.Status != contracts.StatusClosing {
			err = fmt.Errorf("position %s is %s, not CLOSING", id, p.Status)
			return
		}
		p.Status = contracts.StatusOpen
		p.CloseFailures++
		failures = p.CloseFailures
	})
	if callErr != nil {
		return 0, callErr
	}
	return failures, err
}

// Closed returns up to limit of the most recently closed positions, newest first
func (s *PositionStore) Closed(ctx context.Context, limit int) ([]*contracts.Position, error) {
	var out []*contracts.Position
	err := s.call(ctx, func(st *storeState) {
		for i := len(st.order) - 1; i >= 0; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, st.closed[st.order[i]].Clone())
		}
	})
	return out, err
}

// Counts returns the number of OPEN and CLOSING positions
func (s *PositionStore) Counts(ctx context.Context) (open, closing int, err error) {
	err = s.call(ctx, func(st *storeState) {
		for _, p := range st.live {
			switch p.Status {
			case contracts.StatusOpen:
				open++
			case contracts.StatusClosing:
				closing++
			}
		}
	})
	return open, closing, err
}

// Symbols returns the distinct symbols with live positions
func (s *PositionStore) Symbols(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.call(ctx, func(st *storeState) {
		for _, p := range st.live {
			seen[p.Symbol] = true
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func sortPositions(ps []*contracts.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}
