// Package oracle normalizes heterogeneous price-feed payloads into the
// engine's OraclePrice tuple. Each supported feed family has its own binary
// layout and confidence-interval multiplier.
//
// Parsing is a pure function over the raw payload bytes; fetching those
// bytes is the caller's responsibility.
package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

var (
	// ErrUnknownOracleKind is returned for a feed family this engine does
	// not support.
	ErrUnknownOracleKind = errors.New("oracle: unknown oracle kind")

	// ErrInvalidOracleData is returned when the payload bytes do not match
	// the declared feed family's layout.
	ErrInvalidOracleData = errors.New("oracle: invalid oracle data")
)

var (
	// PythConfMultiplier widens the published confidence into the price
	// band used for biased valuation.
	PythConfMultiplier = decimal.NewFromFloat(2.12)

	// SwitchboardConfMultiplier is the band multiplier for switchboard
	// standard deviations.
	SwitchboardConfMultiplier = decimal.NewFromFloat(1.96)

	// MaxConfRatio caps the confidence interval at 5% of the mid price so a
	// wide oracle band cannot zero out collateral entirely.
	MaxConfRatio = decimal.NewFromFloat(0.05)
)

const (
	// pyth-push payload: price i64, conf u64, exponent i32, pad u32,
	// emaPrice i64, emaConf u64, publishTime i64. Little-endian.
	pythPayloadLen = 48

	// switchboard-pull payload: value i128 (scale 18), stdDev i128
	// (scale 18). Little-endian two's complement.
	switchboardPayloadLen = 32

	switchboardScale = 18
)

// Parse decodes a raw feed payload for the given oracle kind into the
// normalized OraclePrice tuple.
func Parse(kind model.OracleKind, raw []byte) (*model.OraclePrice, error) {
	switch kind {
	case model.OracleKindPythPush:
		return parsePythPush(raw)
	case model.OracleKindSwitchboardPull:
		return parseSwitchboardPull(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOracleKind, kind)
	}
}

func parsePythPush(raw []byte) (*model.OraclePrice, error) {
	if len(raw) != pythPayloadLen {
		return nil, fmt.Errorf("%w: pyth payload is %d bytes, want %d", ErrInvalidOracleData, len(raw), pythPayloadLen)
	}

	priceMantissa := int64(binary.LittleEndian.Uint64(raw[0:8]))
	confMantissa := binary.LittleEndian.Uint64(raw[8:16])
	exponent := int32(binary.LittleEndian.Uint32(raw[16:20]))
	emaPriceMantissa := int64(binary.LittleEndian.Uint64(raw[24:32]))
	emaConfMantissa := binary.LittleEndian.Uint64(raw[32:40])

	if priceMantissa <= 0 || emaPriceMantissa <= 0 {
		return nil, fmt.Errorf("%w: non-positive pyth price", ErrInvalidOracleData)
	}
	if confMantissa > math.MaxInt64 || emaConfMantissa > math.MaxInt64 {
		return nil, fmt.Errorf("%w: pyth confidence overflows int64", ErrInvalidOracleData)
	}

	realtime := observation(
		decimal.New(priceMantissa, exponent),
		decimal.New(int64(confMantissa), exponent),
		PythConfMultiplier,
	)
	weighted := observation(
		decimal.New(emaPriceMantissa, exponent),
		decimal.New(int64(emaConfMantissa), exponent),
		PythConfMultiplier,
	)

	return &model.OraclePrice{Realtime: realtime, Weighted: weighted}, nil
}

func parseSwitchboardPull(raw []byte) (*model.OraclePrice, error) {
	if len(raw) != switchboardPayloadLen {
		return nil, fmt.Errorf("%w: switchboard payload is %d bytes, want %d", ErrInvalidOracleData, len(raw), switchboardPayloadLen)
	}

	price := i128ToDecimal(raw[0:16], switchboardScale)
	stdDev := i128ToDecimal(raw[16:32], switchboardScale)

	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive switchboard price", ErrInvalidOracleData)
	}
	if stdDev.IsNegative() {
		return nil, fmt.Errorf("%w: negative switchboard std dev", ErrInvalidOracleData)
	}

	obs := observation(price, stdDev, SwitchboardConfMultiplier)

	// Switchboard publishes no time-weighted series; the weighted slot
	// mirrors the real-time observation.
	return &model.OraclePrice{Realtime: obs, Weighted: obs}, nil
}

// observation builds one PriceObservation: the confidence is capped at
// MaxConfRatio of the mid price, and the low edge floors at zero.
func observation(price, confidence, multiplier decimal.Decimal) model.PriceObservation {
	interval := confidence.Mul(multiplier)
	cap := price.Mul(MaxConfRatio)
	if interval.GreaterThan(cap) {
		interval = cap
	}

	lowest := price.Sub(interval)
	if lowest.IsNegative() {
		lowest = decimal.Zero
	}

	return model.PriceObservation{
		Price:        price,
		Confidence:   interval,
		LowestPrice:  lowest,
		HighestPrice: price.Add(interval),
	}
}

// i128ToDecimal interprets 16 little-endian two's-complement bytes as a
// fixed-scale decimal.
func i128ToDecimal(raw []byte, scale int32) decimal.Decimal {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = raw[15-i]
	}

	negative := be[0]&0x80 != 0
	v := new(big.Int).SetBytes(be)
	if negative {
		// two's complement: v - 2^128
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return decimal.NewFromBigInt(v, -scale)
}
