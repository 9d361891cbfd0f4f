// Package state holds the single shared-state container used by every
// component: positions, resting orders, the market/parameter catalog,
// stream health flags, and the in-flight operation set. One mutex guards
// everything; accessors are short critical sections that copy out
// primitive/struct values — no network or disk I/O, and no closure
// invocation, ever happens while the lock is held.
//
// This consolidates what the source material called GlobalState and
// BotState into one contract.
package state

import (
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// InFlightKind distinguishes the three operations the periodic updater
// sweeps: a resting buy, a resting sell, or a cancel.
type InFlightKind string

const (
	InFlightBuy    InFlightKind = "buy"
	InFlightSell   InFlightKind = "sell"
	InFlightCancel InFlightKind = "cancel"
)

type inflightKey struct {
	token string
	kind  InFlightKind
}

// State is the thread-safe container. Zero value is not usable; use New.
type State struct {
	mu sync.Mutex

	client any // exchange-client handle; opaque here, typed by its owner

	markets map[string]types.Market      // by condition id
	params  map[string]types.ParamProfile // by profile name

	positions map[string]types.Position            // by token
	orders    map[string]map[types.Side]types.Order // by token, side

	marketStreamHealthy bool
	userStreamHealthy   bool

	inflight map[inflightKey]time.Time
}

// New returns an empty, ready-to-use State.
func New() *State {
	return &State{
		markets:   make(map[string]types.Market),
		params:    make(map[string]types.ParamProfile),
		positions: make(map[string]types.Position),
		orders:    make(map[string]map[types.Side]types.Order),
		inflight:  make(map[inflightKey]time.Time),
	}
}

// SetClient stores the exchange-client handle for components that fetch it
// from shared state rather than receiving it by constructor injection.
func (s *State) SetClient(c any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

// Client returns the exchange-client handle, or nil if unset.
func (s *State) Client() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// SetMarkets replaces the market catalog wholesale.
func (s *State) SetMarkets(markets []types.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]types.Market, len(markets))
	for _, mk := range markets {
		m[mk.ConditionID] = mk
	}
	s.markets = m
}

// Markets returns a copy of the market catalog.
func (s *State) Markets() []types.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Market, 0, len(s.markets))
	for _, mk := range s.markets {
		out = append(out, mk)
	}
	return out
}

// MarketByConditionID looks up one market.
func (s *State) MarketByConditionID(id string) (types.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk, ok := s.markets[id]
	return mk, ok
}

// SetParams replaces the parameter-profile table wholesale.
func (s *State) SetParams(params []types.ParamProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := make(map[string]types.ParamProfile, len(params))
	for _, pr := range params {
		p[pr.Name] = pr
	}
	s.params = p
}

// ParamByName looks up one parameter profile.
func (s *State) ParamByName(name string) (types.ParamProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[name]
	return p, ok
}

// GetPosition returns the position for token, or the zero value if untracked.
func (s *State) GetPosition(token string) types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[token]
}

// SetPosition overwrites the position for token.
func (s *State) SetPosition(token string, pos types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[token] = pos
}

// AllPositions returns a copy of the whole positions map.
func (s *State) AllPositions() map[string]types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// GetOrder returns the resting order for (token, side), if any.
func (s *State) GetOrder(token string, side types.Side) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byside, ok := s.orders[token]
	if !ok {
		return types.Order{}, false
	}
	o, ok := byside[side]
	return o, ok
}

// SetOrder overwrites the resting order record for (token, side).
func (s *State) SetOrder(token string, side types.Side, o types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byside, ok := s.orders[token]
	if !ok {
		byside = make(map[types.Side]types.Order)
		s.orders[token] = byside
	}
	byside[side] = o
}

// ClearOrder removes the resting order record for (token, side).
func (s *State) ClearOrder(token string, side types.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byside, ok := s.orders[token]; ok {
		delete(byside, side)
	}
}

// HasAnyOrder reports whether token has a resting order on either side.
func (s *State) HasAnyOrder(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byside, ok := s.orders[token]
	return ok && len(byside) > 0
}

// ReplaceOrders replaces the entire resting-orders map wholesale, as done by
// the order manager's reconcile cycle.
func (s *State) ReplaceOrders(orders map[string]map[types.Side]types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
}

// SetMarketStreamHealthy records whether the public book/trade stream is
// currently connected.
func (s *State) SetMarketStreamHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketStreamHealthy = healthy
}

// SetUserStreamHealthy records whether the private account stream is
// currently connected.
func (s *State) SetUserStreamHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userStreamHealthy = healthy
}

// MarketStreamHealthy reports the public stream's last known state.
func (s *State) MarketStreamHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketStreamHealthy
}

// UserStreamHealthy reports the private stream's last known state.
func (s *State) UserStreamHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userStreamHealthy
}

// MarkInflight installs an in-flight marker for (token, kind), timestamped
// now. Must be called before any mutating REST call.
func (s *State) MarkInflight(token string, kind InFlightKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[inflightKey{token, kind}] = time.Now()
}

// ClearInflight removes the marker for (token, kind). Safe to call even if
// no marker exists.
func (s *State) ClearInflight(token string, kind InFlightKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, inflightKey{token, kind})
}

// IsInflight reports whether (token, kind) currently has a marker.
func (s *State) IsInflight(token string, kind InFlightKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[inflightKey{token, kind}]
	return ok
}

// SweepInflight drops every marker older than maxAge and returns how many
// were dropped. This is the only recovery path from a crashed or leaked
// mutating call.
func (s *State) SweepInflight(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	dropped := 0
	for k, ts := range s.inflight {
		if ts.Before(cutoff) {
			delete(s.inflight, k)
			dropped++
		}
	}
	return dropped
}
