// Package decode parses framed upstream market-data bytes into normalized
// tick records (spec.md §4.1).
package decode

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const (
	feedCodeTicker = 2
	feedCodeQuote  = 4

	headerSize = 8
)

// Tick is the normalized record the decoder hands to the router.
type Tick struct {
	SecurityID uint32
	LTP        float64
	Bid        float64
	Ask        float64
	LTQ        float64
	TsMs       int64

	HasCumulativeVolume bool
	CumulativeVolume    float64

	HasOI bool
	OI    float64
}

// ErrUnhandledFrame is returned for frame kinds the decoder intentionally
// ignores (spec.md §4.1: "Two frame kinds are decoded; others are ignored
// without error"). Callers should treat it as a silent no-op, not a fault.
var ErrUnhandledFrame = fmt.Errorf("decode: unhandled frame kind")

// Frame decodes one length-prefixed binary frame. The 8-byte little-endian
// header is {u8 feed_code, u16 msg_len, u8 exchange_segment, u32
// security_id}, per spec.md §4.1.
func Frame(raw []byte) (Tick, error) {
	if len(raw) < headerSize {
		return Tick{}, fmt.Errorf("decode: frame too short: %d bytes", len(raw))
	}

	feedCode := raw[0]
	msgLen := binary.LittleEndian.Uint16(raw[1:3])
	// raw[3] is exchange_segment; the router, not the decoder, resolves it.
	securityID := binary.LittleEndian.Uint32(raw[4:8])

	payload := raw[headerSize:]

	switch feedCode {
	case feedCodeTicker:
		return decodeTicker(securityID, payload)
	case feedCodeQuote:
		return decodeQuote(securityID, payload, msgLen)
	default:
		return Tick{}, ErrUnhandledFrame
	}
}

// decodeTicker handles feed code 2: f32 ltp, u32 timestamp_seconds.
func decodeTicker(securityID uint32, payload []byte) (Tick, error) {
	if len(payload) < 8 {
		return Tick{}, fmt.Errorf("decode: ticker payload too short: %d bytes", len(payload))
	}
	ltp := readF32(payload[0:4])
	tsRaw := binary.LittleEndian.Uint32(payload[4:8])

	return Tick{
		SecurityID: securityID,
		LTP:        float64(ltp),
		TsMs:       normalizeTimestamp(tsRaw),
	}, nil
}

// decodeQuote handles feed code 4: the full quote payload, with an optional
// trailing open_interest field present only when msgLen >= 54.
func decodeQuote(securityID uint32, payload []byte, msgLen uint16) (Tick, error) {
	const minLen = 4 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4
	if len(payload) < minLen {
		return Tick{}, fmt.Errorf("decode: quote payload too short: %d bytes", len(payload))
	}

	off := 0
	readF32Field := func() float32 {
		v := readF32(payload[off : off+4])
		off += 4
		return v
	}
	readI16Field := func() int16 {
		v := int16(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
		return v
	}
	readU32Field := func() uint32 {
		v := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		return v
	}

	ltp := readF32Field()
	ltq := readI16Field()
	ltt := readU32Field()
	_ = readF32Field() // atp, unused by the footprint engine
	volume := readU32Field()
	_ = readU32Field() // total_sell_qty (order book, not traded)
	_ = readU32Field() // total_buy_qty (order book, not traded)
	_ = readF32Field() // day_open
	_ = readF32Field() // day_close
	_ = readF32Field() // day_high
	_ = readF32Field() // day_low

	tick := Tick{
		SecurityID:          securityID,
		LTP:                 float64(ltp),
		LTQ:                 float64(ltq),
		TsMs:                normalizeTimestamp(ltt),
		HasCumulativeVolume: true,
		CumulativeVolume:    float64(volume),
	}

	if msgLen >= 54 && len(payload) >= off+4 {
		oi := binary.LittleEndian.Uint32(payload[off : off+4])
		if oi > 0 && oi <= 100_000_000 {
			tick.HasOI = true
			tick.OI = float64(oi)
		}
	}

	return tick, nil
}

// normalizeTimestamp converts a seconds-or-milliseconds upstream timestamp
// into unix milliseconds, per spec.md §4.1.
func normalizeTimestamp(raw uint32) int64 {
	v := int64(raw)
	if v < 1_000_000_000_000 {
		return v * 1000
	}
	return v
}

func readF32(b []byte) float32 {
	bits := binary.LittleEndian.Uint32(b)
	return math.Float32frombits(bits)
}

// TextFrame attempts to parse a textual frame as JSON. A parse failure is
// not an error the caller should log: malformed or informational text
// frames are simply dropped (spec.md §4.1).
func TextFrame(raw []byte) (map[string]interface{}, bool) {
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}
