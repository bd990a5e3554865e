// Package state holds the single AppState handle threaded through every
// subsystem, replacing the module-global mutable maps spec.md §9 flags as
// an anti-pattern to redesign away from.
package state

import (
	"fmt"
	"sync"

	"orderflow-engine/internal/footprint"
)

// Registration is an instrument's broker identity (spec.md §3).
type Registration struct {
	SecurityID      uint32
	ExchangeSegment string
}

// AppState is the single mutable handle passed explicitly into every
// handler/goroutine. It holds the registry, engine, reset-date and token
// state; the Prometheus collectors in internal/metrics are package-level
// variables and are not part of it.
type AppState struct {
	mu sync.RWMutex

	params *footprint.Params
	maxEngines int

	registrations map[string]Registration  // symbol -> registration
	engines       map[string]*footprint.Engine // symbol -> engine

	// reverse lookup, maintained alongside registrations for O(1) routing
	bySecurityID map[uint32]string

	lastResetDate string

	// token is the mutable upstream access token (spec.md §3/§5). It is
	// read fresh on every upstream (re)connect so a refresh delivered via
	// SetToken takes effect without restarting the process.
	token string

	// tokenCh is closed and replaced whenever the upstream credential
	// is refreshed, implementing the token-update rendezvous of spec.md §4.4.
	tokenCh chan struct{}

	// newInstruments notifies a live upstream session of instruments
	// registered after its connect-time subscribe burst, implementing the
	// "subscription delta on the open socket" requirement. Buffered and
	// best-effort: if no session is listening (demo mode, or between
	// connects) a full reconnect's own subscribe burst covers it anyway.
	newInstruments chan Registration
}

// New constructs an AppState with the given process-wide footprint params.
func New(params *footprint.Params, maxEngines int) *AppState {
	return &AppState{
		params:         params,
		maxEngines:     maxEngines,
		registrations:  make(map[string]Registration),
		engines:        make(map[string]*footprint.Engine),
		bySecurityID:   make(map[uint32]string),
		tokenCh:        make(chan struct{}),
		newInstruments: make(chan Registration, 256),
	}
}

// ErrCapacityExceeded is returned by Subscribe when MAX_ENGINES would be
// exceeded (spec.md §7 "Capacity").
var ErrCapacityExceeded = fmt.Errorf("state: max engines exceeded")

// Subscribe registers symbol and creates its engine, failing
// with ErrCapacityExceeded if the registry is at capacity (spec.md §3, §7).
// symbol is stored exactly as given; callers pass it already uppercased.
func (s *AppState) Subscribe(symbol string, securityID uint32, exchangeSegment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := Registration{SecurityID: securityID, ExchangeSegment: exchangeSegment}

	// A security_id reassigned to a different symbol (contract rollover
	// without an intervening Unsubscribe) detaches its previous owner
	// entirely, so a stale registration never keeps counting toward
	// MAX_ENGINES or getting written to snapshots after its id moved on.
	if prevSymbol, ok := s.bySecurityID[securityID]; ok && prevSymbol != symbol {
		delete(s.registrations, prevSymbol)
		delete(s.engines, prevSymbol)
	}

	if old, exists := s.registrations[symbol]; exists {
		changed := old != reg
		if old.SecurityID != securityID {
			delete(s.bySecurityID, old.SecurityID)
		}
		s.registrations[symbol] = reg
		s.bySecurityID[securityID] = symbol
		if changed {
			s.notifyNewInstrument(reg)
		}
		return nil
	}

	if s.maxEngines > 0 && len(s.registrations) >= s.maxEngines {
		return ErrCapacityExceeded
	}

	s.registrations[symbol] = reg
	s.bySecurityID[securityID] = symbol
	s.engines[symbol] = footprint.NewEngine(symbol, s.params)
	s.notifyNewInstrument(reg)
	return nil
}

// notifyNewInstrument queues reg for a live session's subscription-delta
// watcher. Non-blocking: a full buffer means a session will pick it up via
// its next full reconnect subscribe burst instead.
func (s *AppState) notifyNewInstrument(reg Registration) {
	select {
	case s.newInstruments <- reg:
	default:
	}
}

// Unsubscribe destroys symbol's registration and engine.
func (s *AppState) Unsubscribe(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := s.registrations[symbol]; ok {
		delete(s.bySecurityID, reg.SecurityID)
	}
	delete(s.registrations, symbol)
	delete(s.engines, symbol)
}

// Engine returns symbol's engine, or nil if not subscribed.
func (s *AppState) Engine(symbol string) *footprint.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engines[symbol]
}

// SymbolForSecurityID resolves a numeric security id to its subscribed
// symbol, for the tick router (spec.md §4.5).
func (s *AppState) SymbolForSecurityID(securityID uint32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbol, ok := s.bySecurityID[securityID]
	return symbol, ok
}

// Engines returns a copy of the current symbol->engine map. Iteration must
// tolerate concurrent insertion (spec.md §5), hence the copy-before-iterate.
func (s *AppState) Engines() map[string]*footprint.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*footprint.Engine, len(s.engines))
	for k, v := range s.engines {
		out[k] = v
	}
	return out
}

// Registrations returns a copy of the current symbol->registration map.
func (s *AppState) Registrations() map[string]Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Registration, len(s.registrations))
	for k, v := range s.registrations {
		out[k] = v
	}
	return out
}

// SymbolCount reports how many instruments are currently registered.
func (s *AppState) SymbolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registrations)
}

// LastResetDate returns the calendar-date string of the last daily reset.
func (s *AppState) LastResetDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResetDate
}

// SetLastResetDate updates the idempotency token for the daily reset
// scheduler (spec.md §4.10).
func (s *AppState) SetLastResetDate(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResetDate = date
}

// ClearAllEngines wipes every engine's candle state, used by the daily
// reset scheduler. Registrations (subscriptions) are untouched.
func (s *AppState) ClearAllEngines() {
	s.mu.RLock()
	engines := make([]*footprint.Engine, 0, len(s.engines))
	for _, e := range s.engines {
		engines = append(engines, e)
	}
	s.mu.RUnlock()

	for _, e := range engines {
		e.Clear()
	}
}

// Token returns the current upstream access token.
func (s *AppState) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a refreshed upstream access token and implements the
// token-rendezvous signal: it closes the current channel (waking every
// waiter, e.g. a session backing off on an auth failure) and installs a
// fresh one.
func (s *AppState) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	close(s.tokenCh)
	s.tokenCh = make(chan struct{})
}

// TokenUpdated returns the current rendezvous channel; it closes when the
// credential is next refreshed.
func (s *AppState) TokenUpdated() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenCh
}

// NewInstruments returns the channel a live upstream session watches for
// instruments subscribed after its initial connect-time subscribe burst.
func (s *AppState) NewInstruments() <-chan Registration {
	return s.newInstruments
}
