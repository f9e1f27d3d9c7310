package market

import (
	"fmt"
	"strings"
)

// Direction is the order side as the venue reports it.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// PosSide selects which grid (long or short) an order belongs to.
type PosSide string

const (
	Long  PosSide = "long"
	Short PosSide = "short"
)

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

func (s PosSide) Valid() bool { return s == Long || s == Short }

// Opening returns the direction that adds exposure on side s.
func (s PosSide) Opening() Direction {
	if s == Short {
		return Sell
	}
	return Buy
}

// Closing returns the direction that reduces exposure on side s.
func (s PosSide) Closing() Direction { return s.Opening().Opposite() }

// IsOpening reports whether d adds exposure on side s.
func (s PosSide) IsOpening(d Direction) bool { return d == s.Opening() }

func ParseDirection(raw string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(raw)))
	if !d.Valid() {
		return "", fmt.Errorf("invalid direction %q", raw)
	}
	return d, nil
}

func ParsePosSide(raw string) (PosSide, error) {
	s := PosSide(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid position side %q", raw)
	}
	return s, nil
}
