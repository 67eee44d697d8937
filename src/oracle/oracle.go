package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"

	"perp-market/src/apperr"
)

type Kind uint8

const (
	KindStub Kind = iota + 1
	KindPyth
	KindSwitchboard
)

func (k Kind) String() string {
	switch k {
	case KindStub:
		return "stub"
	case KindPyth:
		return "pyth"
	case KindSwitchboard:
		return "switchboard"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

var (
	ErrInvalidOracle = apperr.New(apperr.KindOracle, "InvalidOracle", "unrecognized or malformed oracle feed")
	ErrStalePrice    = apperr.New(apperr.KindOracle, "StalePrice", "oracle price is stale")
	ErrLowConfidence = apperr.New(apperr.KindOracle, "LowConfidence", "oracle confidence interval too wide")
)

const pythMagic uint32 = 0xa1b2c3d4

var (
	stubDiscriminator        = accountDiscriminator("StubOracle")
	switchboardDiscriminator = accountDiscriminator("AggregatorAccountData")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Config bounds which readings are accepted.
type Config struct {
	// ConfFilter is the largest accepted confidence/price ratio.
	ConfFilter decimal.Decimal `json:"conf_filter" yaml:"conf_filter"`
	// MaxStalenessSecs < 0 disables the freshness check.
	MaxStalenessSecs int64 `json:"max_staleness_secs" yaml:"max_staleness_secs"`
}

func DefaultConfig() Config {
	return Config{
		ConfFilter:       decimal.RequireFromString("0.1"),
		MaxStalenessSecs: 120,
	}
}

// Price is a feed reading in UI units (quote per whole base unit).
type Price struct {
	Kind        Kind
	Value       decimal.Decimal
	Confidence  decimal.Decimal
	LastUpdated uint64
}

// DetermineKind reads the discriminator at the start of a feed.
func DetermineKind(data []byte) (Kind, error) {
	if len(data) >= 4 && binary.LittleEndian.Uint32(data[0:4]) == pythMagic {
		return KindPyth, nil
	}
	if len(data) >= 8 {
		var d [8]byte
		copy(d[:], data[:8])
		switch d {
		case stubDiscriminator:
			return KindStub, nil
		case switchboardDiscriminator:
			return KindSwitchboard, nil
		}
	}
	return 0, ErrInvalidOracle
}

// Read decodes and validates one feed. It has no side effects.
func Read(data []byte, cfg Config, now uint64) (Price, error) {
	kind, err := DetermineKind(data)
	if err != nil {
		return Price{}, err
	}

	var p Price
	switch kind {
	case KindStub:
		p, err = decodeStub(data)
	case KindPyth:
		p, err = decodePyth(data)
	case KindSwitchboard:
		p, err = decodeSwitchboard(data)
	}
	if err != nil {
		return Price{}, err
	}

	if !p.Value.IsPositive() {
		return Price{}, fmt.Errorf("%s price %s: %w", kind, p.Value, ErrInvalidOracle)
	}

	// stub feeds are set by an operator and never go stale
	if kind != KindStub && cfg.MaxStalenessSecs >= 0 {
		if now > p.LastUpdated && now-p.LastUpdated > uint64(cfg.MaxStalenessSecs) {
			return Price{}, fmt.Errorf("%s last updated %d, now %d, max staleness %ds: %w",
				kind, p.LastUpdated, now, cfg.MaxStalenessSecs, ErrStalePrice)
		}
	}

	if p.Confidence.GreaterThan(p.Value.Mul(cfg.ConfFilter)) {
		return Price{}, fmt.Errorf("%s confidence %s on price %s exceeds filter %s: %w",
			kind, p.Confidence, p.Value, cfg.ConfFilter, ErrLowConfidence)
	}

	return p, nil
}
