package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxBps is the basis-point denominator: 10_000 bps equals the full net amount.
const MaxBps = 10_000

// Direction selects the outcome token a leg buys.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// ParseDirection normalises a configured direction string.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(DirectionYes):
		return DirectionYes, nil
	case string(DirectionNo):
		return DirectionNo, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Leg is one prediction-market order leg of a strategy.
type Leg struct {
	MarketID    string
	TokenID     string
	Direction   Direction
	NotionalBps uint32
	MaxPriceBps uint32
}

// HedgeLeg describes the hedge position opened on-chain at purchase time.
// The coordinator only reads it back; amounts live in the vault contract.
type HedgeLeg struct {
	Venue  string
	Asset  string
	IsLong bool
}

// Definition is an immutable strategy bundle.
type Definition struct {
	ID             uint64
	Name           string
	Legs           []Leg
	Hedge          HedgeLeg
	TotalWeightBps uint32
}

var (
	// ErrWeightOverflow reports legs whose weights exceed the full net amount.
	ErrWeightOverflow = errors.New("strategy: leg weights exceed 10000 bps")
	// ErrNoLegs reports a strategy without any order legs.
	ErrNoLegs = errors.New("strategy: no legs defined")
)

// Validate checks the structural invariants of a definition.
func (d Definition) Validate() error {
	if len(d.Legs) == 0 {
		return fmt.Errorf("strategy %d: %w", d.ID, ErrNoLegs)
	}
	var sum uint64
	for i, leg := range d.Legs {
		if strings.TrimSpace(leg.MarketID) == "" {
			return fmt.Errorf("strategy %d leg %d: market id is required", d.ID, i)
		}
		if leg.NotionalBps > 0 && strings.TrimSpace(leg.TokenID) == "" {
			return fmt.Errorf("strategy %d leg %d: token id is required", d.ID, i)
		}
		if leg.MaxPriceBps == 0 || leg.MaxPriceBps >= MaxBps {
			return fmt.Errorf("strategy %d leg %d: max price must be within (0, %d) bps", d.ID, i, MaxBps)
		}
		sum += uint64(leg.NotionalBps)
	}
	if sum > MaxBps {
		return fmt.Errorf("strategy %d: %w (sum %d)", d.ID, ErrWeightOverflow, sum)
	}
	if d.TotalWeightBps != 0 && uint64(d.TotalWeightBps) != sum {
		return fmt.Errorf("strategy %d: total weight %d does not match leg sum %d", d.ID, d.TotalWeightBps, sum)
	}
	return nil
}

// ActiveLegs returns legs carrying a non-zero weight, in definition order.
func (d Definition) ActiveLegs() []Leg {
	legs := make([]Leg, 0, len(d.Legs))
	for _, leg := range d.Legs {
		if leg.NotionalBps > 0 {
			legs = append(legs, leg)
		}
	}
	return legs
}

// AnchorMarket is the market whose maturity stands in for the whole strategy.
func (d Definition) AnchorMarket() (string, bool) {
	legs := d.ActiveLegs()
	if len(legs) == 0 {
		return "", false
	}
	return legs[0].MarketID, true
}

// Store is a read-only set of definitions keyed by strategy id.
type Store struct {
	byID map[uint64]Definition
}

// NewStore validates and indexes definitions. Duplicate ids are rejected.
func NewStore(defs []Definition) (*Store, error) {
	byID := make(map[uint64]Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("strategy %d defined twice", def.ID)
		}
		if def.TotalWeightBps == 0 {
			def.TotalWeightBps = totalWeight(def.Legs)
		}
		legs := make([]Leg, len(def.Legs))
		copy(legs, def.Legs)
		def.Legs = legs
		byID[def.ID] = def
	}
	return &Store{byID: byID}, nil
}

// Get looks up a definition by id.
func (s *Store) Get(id uint64) (Definition, bool) {
	if s == nil {
		return Definition{}, false
	}
	def, ok := s.byID[id]
	return def, ok
}

// All returns every definition ordered by id.
func (s *Store) All() []Definition {
	if s == nil {
		return nil
	}
	defs := make([]Definition, 0, len(s.byID))
	for _, def := range s.byID {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Len reports the number of definitions.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byID)
}

func totalWeight(legs []Leg) uint32 {
	var sum uint32
	for _, leg := range legs {
		sum += leg.NotionalBps
	}
	return sum
}
