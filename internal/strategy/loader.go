package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Strategies []fileStrategy `yaml:"strategies"`
}

type fileStrategy struct {
	ID             uint64    `yaml:"id"`
	Name           string    `yaml:"name"`
	TotalWeightBps uint32    `yaml:"total_weight_bps"`
	Legs           []fileLeg `yaml:"legs"`
	Hedge          fileHedge `yaml:"hedge"`
}

type fileLeg struct {
	MarketID    string `yaml:"market_id"`
	TokenID     string `yaml:"token_id"`
	Direction   string `yaml:"direction"`
	NotionalBps uint32 `yaml:"notional_bps"`
	MaxPriceBps uint32 `yaml:"max_price_bps"`
}

type fileHedge struct {
	Venue  string `yaml:"venue"`
	Asset  string `yaml:"asset"`
	IsLong bool   `yaml:"is_long"`
}

// LoadFile reads strategy definitions from a YAML document.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML strategies document into a validated Store.
func Parse(data []byte) (*Store, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}

	defs := make([]Definition, 0, len(doc.Strategies))
	for _, fs := range doc.Strategies {
		def := Definition{
			ID:             fs.ID,
			Name:           fs.Name,
			TotalWeightBps: fs.TotalWeightBps,
			Hedge: HedgeLeg{
				Venue:  fs.Hedge.Venue,
				Asset:  fs.Hedge.Asset,
				IsLong: fs.Hedge.IsLong,
			},
		}
		for i, fl := range fs.Legs {
			dir, err := ParseDirection(fl.Direction)
			if err != nil {
				return nil, fmt.Errorf("strategy %d leg %d: %w", fs.ID, i, err)
			}
			def.Legs = append(def.Legs, Leg{
				MarketID:    fl.MarketID,
				TokenID:     fl.TokenID,
				Direction:   dir,
				NotionalBps: fl.NotionalBps,
				MaxPriceBps: fl.MaxPriceBps,
			})
		}
		defs = append(defs, def)
	}
	return NewStore(defs)
}
