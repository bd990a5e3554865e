// Package oi implements the periodic REST open-interest sidecar described
// in spec.md §4.7, adapted from the teacher's internal/binance client's
// HTTP/rate-limiting shape.
package oi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"orderflow-engine/internal/cache"
	"orderflow-engine/internal/state"
)

// legacySegmentAliases maps broker-feed segment codes to the names the
// REST quote endpoint actually accepts (spec.md §4.7: "normalizing legacy
// segment NSE_FO to the REST variant NSE_FNO").
var legacySegmentAliases = map[string]string{
	"NSE_FO": "NSE_FNO",
}

func normalizeSegment(segment string) string {
	if alias, ok := legacySegmentAliases[segment]; ok {
		return alias
	}
	return segment
}

// BroadcastFunc is called once per symbol whose OI was just updated, so the
// caller can gate a viewer fan-out (spec.md §4.7, last sentence).
type BroadcastFunc func(symbol string)

// Poller periodically fetches open interest for every subscribed
// instrument and writes it into each engine's current candle.
type Poller struct {
	state     *state.AppState
	client    *http.Client
	apiBase   string
	clientID  string
	interval  time.Duration
	limiter   *rate.Limiter
	cache     *cache.OICache
	broadcast BroadcastFunc

	// cooldownUntil holds off all polling after a 429, per spec.md §7's
	// "distinguished status for the options poller: abort remaining work
	// this cycle and add a cool-down equal to the regular interval".
	cooldownUntil time.Time
}

// New constructs a Poller. apiBase/clientID come from upstream credentials
// (spec.md §6); cache may be nil (uncached). The access token is read fresh
// from st on every request, not captured here, so a refresh delivered via
// AppState.SetToken takes effect on the REST poller too.
func New(st *state.AppState, apiBase, clientID string, interval time.Duration, c *cache.OICache, broadcast BroadcastFunc) *Poller {
	return &Poller{
		state:     st,
		client:    &http.Client{Timeout: 5 * time.Second},
		apiBase:   apiBase,
		clientID:  clientID,
		interval:  interval,
		limiter:   rate.NewLimiter(rate.Limit(1), 1), // documented 1 req/s upstream cap
		cache:     c,
		broadcast: broadcast,
	}
}

// Run blocks, polling every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce groups subscribed instruments by segment and polls each group.
func (p *Poller) pollOnce(ctx context.Context) {
	if time.Now().Before(p.cooldownUntil) {
		log.Printf("[oi] skipping cycle, cooling down until %s", p.cooldownUntil.Format(time.RFC3339))
		return
	}

	groups := make(map[string][]uint32)
	idToSymbol := make(map[uint32]string)

	for symbol, reg := range p.state.Registrations() {
		segment := normalizeSegment(reg.ExchangeSegment)
		groups[segment] = append(groups[segment], reg.SecurityID)
		idToSymbol[reg.SecurityID] = symbol
	}

	for segment, ids := range groups {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		if rateLimited := p.pollSegment(ctx, segment, ids, idToSymbol); rateLimited {
			p.cooldownUntil = time.Now().Add(p.interval)
			log.Printf("[oi] rate limited, aborting remaining segments this cycle")
			return
		}
	}
}

// quoteRequest body is keyed by segment name, spec.md §6: "body
// {segment: [numeric_ids…]}".
type quoteRequest map[string][]uint32

type quoteItem struct {
	OI float64 `json:"oi"`
}

// quoteResponse nests data by segment then by security id (as a string
// key), spec.md §6: "response {data: {segment: {id_str: {oi, …}}}}".
type quoteResponse struct {
	Data map[string]map[string]quoteItem `json:"data"`
}

func cacheKey(segment string, id uint32) string {
	return fmt.Sprintf("oi:%s:%d", segment, id)
}

// pollSegment fetches OI for ids in segment, short-circuiting any id whose
// OI is still in the cache: a value stored by an earlier poll cycle is
// reused, and not re-requested, until the cache's TTL expires. It returns
// true if the upstream responded 429, signalling pollOnce to abort the cycle.
func (p *Poller) pollSegment(ctx context.Context, segment string, ids []uint32, idToSymbol map[uint32]string) bool {
	uncached := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if oi, ok := p.cache.Get(ctx, cacheKey(segment, id)); ok {
			p.applyOI(segment, id, oi, idToSymbol)
			continue
		}
		uncached = append(uncached, id)
	}
	if len(uncached) == 0 {
		return false
	}

	body, err := json.Marshal(quoteRequest{segment: uncached})
	if err != nil {
		log.Printf("[oi] marshal request for segment %s: %v", segment, err)
		return false
	}

	url := strings.TrimRight(p.apiBase, "/") + "/marketfeed/quote"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[oi] build request for segment %s: %v", segment, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", p.state.Token())
	req.Header.Set("client-id", p.clientID)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("[oi] segment %s request failed: %v", segment, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return true
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		log.Printf("[oi] segment %s returned status %d: %s", segment, resp.StatusCode, string(raw))
		return false
	}

	var parsed quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("[oi] segment %s decode failed: %v", segment, err)
		return false
	}

	for _, byID := range parsed.Data {
		for idStr, item := range byID {
			if item.OI <= 0 {
				continue
			}
			id, err := strconv.ParseUint(idStr, 10, 32)
			if err != nil {
				continue
			}
			p.cache.Set(ctx, cacheKey(segment, uint32(id)), item.OI)
			p.applyOI(segment, uint32(id), item.OI, idToSymbol)
		}
	}
	return false
}

func (p *Poller) applyOI(segment string, id uint32, oi float64, idToSymbol map[uint32]string) {
	symbol, ok := idToSymbol[id]
	if !ok {
		return
	}
	engine := p.state.Engine(symbol)
	if engine == nil {
		return
	}
	engine.UpdateOI(oi)
	if p.broadcast != nil {
		p.broadcast(symbol)
	}
}
