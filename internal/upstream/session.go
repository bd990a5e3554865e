// Package upstream owns the single outbound market-data socket: connect,
// batched subscribe, frame dispatch, and auth-aware reconnect backoff
// (spec.md §4.4), adapted from the teacher's internal/websocket
// BinanceStream reconnect loop.
package upstream

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"orderflow-engine/internal/decode"
	"orderflow-engine/internal/metrics"
	"orderflow-engine/internal/state"
)

const (
	subscribeBatchSize = 100
	subscribePacing    = 100 * time.Millisecond

	idleRetry        = 2 * time.Second
	transientBackoff = 5 * time.Second
	minAuthBackoff   = 5 * time.Second
	maxAuthBackoff   = 1800 * time.Second

	requestCodeSubscribe = 17 // Quote: Volume, TotalBuyQty, TotalSellQty (not 15=Ticker)
)

// RouteFunc delivers one decoded tick downstream; satisfied by
// (*router.Router).Route.
type RouteFunc func(decode.Tick)

// Credentials are the upstream broker session's static connection
// parameters. The access token is mutable and lives in AppState instead
// (spec.md §3/§5), so it can be refreshed without reconstructing a Session.
type Credentials struct {
	WSURL    string
	ClientID string
}

// Session owns at most one outbound market-data socket and runs its
// reconnect lifecycle until ctx is cancelled.
type Session struct {
	creds Credentials
	state *state.AppState
	route RouteFunc

	synthetic *SyntheticFeed

	authBackoff time.Duration
}

// New constructs a Session. synthetic is started when creds are empty.
func New(creds Credentials, st *state.AppState, route RouteFunc, synthetic *SyntheticFeed) *Session {
	return &Session{
		creds:       creds,
		state:       st,
		route:       route,
		synthetic:   synthetic,
		authBackoff: minAuthBackoff,
	}
}

// Run is the session lifecycle loop of spec.md §4.4. It blocks until ctx
// is cancelled.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if s.state.SymbolCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleRetry):
				continue
			}
		}

		if s.creds.ClientID == "" || s.state.Token() == "" {
			log.Printf("[upstream] no credentials configured, handing off to synthetic feed")
			s.synthetic.Run(ctx)
			return
		}

		cause := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if isAuthFailure(cause) {
			s.waitAuthBackoff(ctx)
		} else {
			select {
			case <-ctx.Done():
				return
			case <-time.After(transientBackoff):
			}
		}
	}
}

// runOnce opens one socket, subscribes, and reads frames until the
// connection drops. It returns the error that ended the session.
func (s *Session) runOnce(ctx context.Context) error {
	metrics.UpstreamReconnectsTotal.Inc()

	token := s.state.Token()
	u, err := buildURL(s.creds, token)
	if err != nil {
		log.Printf("[upstream] bad url: %v", err)
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		// A rejected handshake surfaces only as "bad handshake"; carry the
		// HTTP status into the error so isAuthFailure can see a 401/403.
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		log.Printf("[upstream] dial failed: %v", err)
		return err
	}
	defer conn.Close()

	s.authBackoff = minAuthBackoff
	log.Printf("[upstream] connected")

	// Drain any deltas queued while disconnected: the full subscribe burst
	// below already covers every current registration.
	drainNewInstruments(s.state.NewInstruments())

	regs := s.state.Registrations()
	instruments := make([]instrument, 0, len(regs))
	for _, reg := range regs {
		instruments = append(instruments, instrument{
			ExchangeSegment: reg.ExchangeSegment,
			SecurityId:      strconv.FormatUint(uint64(reg.SecurityID), 10),
		})
	}
	if err := s.subscribeBatched(conn, instruments); err != nil {
		return err
	}

	deltaCtx, stopDeltaWatch := context.WithCancel(ctx)
	defer stopDeltaWatch()
	go s.watchNewInstruments(deltaCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[upstream] read error: %v", err)
			return err
		}

		tick, err := decode.Frame(raw)
		if err != nil {
			continue // swallow per-frame errors, including unhandled frame kinds
		}
		s.route(tick)
	}
}

// instrument identifies one subscription target the way the upstream
// feed's InstrumentList entries are shaped (spec.md §6: ExchangeSegment
// and SecurityId are both strings on the wire).
type instrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityId      string `json:"SecurityId"`
}

type subscribeMessage struct {
	RequestCode     int          `json:"RequestCode"`
	InstrumentCount int          `json:"InstrumentCount"`
	InstrumentList  []instrument `json:"InstrumentList"`
}

// subscribeBatched sends instruments in batches of at most
// subscribeBatchSize, pacing each send (spec.md §4.4 step 4 and the
// "subscription delta" note).
func (s *Session) subscribeBatched(conn *websocket.Conn, instruments []instrument) error {
	for start := 0; start < len(instruments); start += subscribeBatchSize {
		end := start + subscribeBatchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		batch := instruments[start:end]

		msg := subscribeMessage{
			RequestCode:     requestCodeSubscribe,
			InstrumentCount: len(batch),
			InstrumentList:  batch,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		time.Sleep(subscribePacing)
	}
	return nil
}

// watchNewInstruments sends a subscription delta on the already-open socket
// for every instrument registered after the connect-time subscribe burst
// (spec.md §4.4: "send a subscription delta on the open socket, paced, same
// batch size"), until ctx is cancelled (the connection ended).
func (s *Session) watchNewInstruments(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-s.state.NewInstruments():
			inst := instrument{
				ExchangeSegment: reg.ExchangeSegment,
				SecurityId:      strconv.FormatUint(uint64(reg.SecurityID), 10),
			}
			if err := s.subscribeBatched(conn, []instrument{inst}); err != nil {
				log.Printf("[upstream] subscription delta failed: %v", err)
				return
			}
		}
	}
}

func drainNewInstruments(ch <-chan state.Registration) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// buildURL assembles the upstream feed URL with the version/token/clientId/
// authType query parameters spec.md §6 documents.
func buildURL(creds Credentials, token string) (string, error) {
	parsed, err := url.Parse(creds.WSURL)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set("version", "2")
	q.Set("token", token)
	q.Set("clientId", creds.ClientID)
	q.Set("authType", "2")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// authFailureMarkers are the substrings spec.md §4.4 step 6 names as
// indicating an auth failure rather than a transient disconnect.
var authFailureMarkers = []string{
	"401", "403",
	"unauthorized", "invalid token", "token expired",
	"authentication failed", "rejected",
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// waitAuthBackoff waits up to the current backoff, or until the token is
// refreshed, whichever comes first, then updates the backoff accordingly
// (spec.md §4.4 step 6).
func (s *Session) waitAuthBackoff(ctx context.Context) {
	log.Printf("[upstream] auth failure, backing off %s", s.authBackoff)
	metrics.AuthBackoffSeconds.Set(s.authBackoff.Seconds())

	select {
	case <-ctx.Done():
		return
	case <-s.state.TokenUpdated():
		s.authBackoff = minAuthBackoff
	case <-time.After(s.authBackoff):
		s.authBackoff *= 2
		if s.authBackoff > maxAuthBackoff {
			s.authBackoff = maxAuthBackoff
		}
	}
}

// AuthBackoffSeconds exposes the current backoff, for the auth-backoff
// gauge metric.
func (s *Session) AuthBackoffSeconds() float64 {
	return s.authBackoff.Seconds()
}
