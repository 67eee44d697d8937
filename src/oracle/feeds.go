package oracle

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Feed layouts are little-endian and fixed width.
//
//	stub:        disc[8] mantissa:i64 expo:i32 last_updated:i64
//	pyth:        magic:u32 version:u32 expo:i32 price:i64 conf:u64 publish_time:i64 status:u32
//	switchboard: disc[8] mantissa:i64 scale:u32 std_dev:i64 round_open:i64
const (
	stubLen        = 28
	pythLen        = 40
	switchboardLen = 36

	pythVersion       uint32 = 2
	PythStatusTrading uint32 = 1
)

type StubFeed struct {
	Mantissa    int64
	Expo        int32
	LastUpdated int64
}

func (f StubFeed) Encode() []byte {
	b := make([]byte, stubLen)
	copy(b[0:8], stubDiscriminator[:])
	binary.LittleEndian.PutUint64(b[8:16], uint64(f.Mantissa))
	binary.LittleEndian.PutUint32(b[16:20], uint32(f.Expo))
	binary.LittleEndian.PutUint64(b[20:28], uint64(f.LastUpdated))
	return b
}

func decodeStub(b []byte) (Price, error) {
	if len(b) < stubLen {
		return Price{}, fmt.Errorf("stub feed has %d bytes, want %d: %w", len(b), stubLen, ErrInvalidOracle)
	}
	mantissa := int64(binary.LittleEndian.Uint64(b[8:16]))
	expo := int32(binary.LittleEndian.Uint32(b[16:20]))
	return Price{
		Kind:        KindStub,
		Value:       decimal.New(mantissa, expo),
		Confidence:  decimal.Zero,
		LastUpdated: uint64(int64(binary.LittleEndian.Uint64(b[20:28]))),
	}, nil
}

type PythFeed struct {
	Expo        int32
	Price       int64
	Conf        uint64
	PublishTime int64
	Status      uint32
}

func (f PythFeed) Encode() []byte {
	b := make([]byte, pythLen)
	binary.LittleEndian.PutUint32(b[0:4], pythMagic)
	binary.LittleEndian.PutUint32(b[4:8], pythVersion)
	binary.LittleEndian.PutUint32(b[8:12], uint32(f.Expo))
	binary.LittleEndian.PutUint64(b[12:20], uint64(f.Price))
	binary.LittleEndian.PutUint64(b[20:28], f.Conf)
	binary.LittleEndian.PutUint64(b[28:36], uint64(f.PublishTime))
	binary.LittleEndian.PutUint32(b[36:40], f.Status)
	return b
}

func decodePyth(b []byte) (Price, error) {
	if len(b) < pythLen {
		return Price{}, fmt.Errorf("pyth feed has %d bytes, want %d: %w", len(b), pythLen, ErrInvalidOracle)
	}
	if v := binary.LittleEndian.Uint32(b[4:8]); v != pythVersion {
		return Price{}, fmt.Errorf("pyth version %d: %w", v, ErrInvalidOracle)
	}
	if s := binary.LittleEndian.Uint32(b[36:40]); s != PythStatusTrading {
		return Price{}, fmt.Errorf("pyth status %d is not trading: %w", s, ErrInvalidOracle)
	}
	expo := int32(binary.LittleEndian.Uint32(b[8:12]))
	price := int64(binary.LittleEndian.Uint64(b[12:20]))
	conf := binary.LittleEndian.Uint64(b[20:28])
	publish := int64(binary.LittleEndian.Uint64(b[28:36]))
	if publish < 0 {
		return Price{}, fmt.Errorf("pyth publish time %d: %w", publish, ErrInvalidOracle)
	}
	return Price{
		Kind:        KindPyth,
		Value:       decimal.New(price, expo),
		Confidence:  decimal.NewFromBigInt(new(big.Int).SetUint64(conf), expo),
		LastUpdated: uint64(publish),
	}, nil
}

type SwitchboardFeed struct {
	Mantissa  int64
	Scale     uint32
	StdDev    int64
	RoundOpen int64
}

func (f SwitchboardFeed) Encode() []byte {
	b := make([]byte, switchboardLen)
	copy(b[0:8], switchboardDiscriminator[:])
	binary.LittleEndian.PutUint64(b[8:16], uint64(f.Mantissa))
	binary.LittleEndian.PutUint32(b[16:20], f.Scale)
	binary.LittleEndian.PutUint64(b[20:28], uint64(f.StdDev))
	binary.LittleEndian.PutUint64(b[28:36], uint64(f.RoundOpen))
	return b
}

func decodeSwitchboard(b []byte) (Price, error) {
	if len(b) < switchboardLen {
		return Price{}, fmt.Errorf("switchboard feed has %d bytes, want %d: %w", len(b), switchboardLen, ErrInvalidOracle)
	}
	scale := binary.LittleEndian.Uint32(b[16:20])
	if scale > 28 {
		return Price{}, fmt.Errorf("switchboard scale %d: %w", scale, ErrInvalidOracle)
	}
	mantissa := int64(binary.LittleEndian.Uint64(b[8:16]))
	stdDev := int64(binary.LittleEndian.Uint64(b[20:28]))
	roundOpen := int64(binary.LittleEndian.Uint64(b[28:36]))
	if roundOpen < 0 || stdDev < 0 {
		return Price{}, fmt.Errorf("switchboard round %d std dev %d: %w", roundOpen, stdDev, ErrInvalidOracle)
	}
	return Price{
		Kind:        KindSwitchboard,
		Value:       decimal.New(mantissa, -int32(scale)),
		Confidence:  decimal.New(stdDev, -int32(scale)),
		LastUpdated: uint64(roundOpen),
	}, nil
}
