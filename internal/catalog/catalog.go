package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

var (
	ErrDuplicateUnit = errors.New("duplicate unit id")
	ErrEmptyCatalog  = errors.New("catalog has no units")
)

// UnitDefinition describes one purchasable production unit. A zero
// BaseCycleMs marks a unit that never produces on a cycle.
type UnitDefinition struct {
	ID          string         `yaml:"id" json:"id" validate:"required,max=64"`
	Name        string         `yaml:"name" json:"name"`
	BaseCost    float64        `yaml:"base_cost" json:"base_cost" validate:"gte=7"`
	BasePayout  float64        `yaml:"base_payout" json:"base_payout" validate:"gte=0"`
	BaseCycleMs int64          `yaml:"base_cycle_ms" json:"base_cycle_ms" validate:"gte=0"`
	MaxOwned    int            `yaml:"max_owned" json:"max_owned,omitempty" validate:"gte=0"`
	ClickBonus  bool           `yaml:"click_bonus" json:"click_bonus,omitempty"`
	Display     map[string]any `yaml:"display" json:"display,omitempty"`
}

func (d UnitDefinition) Produces() bool {
	return d.BaseCycleMs > 0
}

func (d UnitDefinition) Capped() bool {
	return d.MaxOwned > 0
}

type file struct {
	Units []UnitDefinition `yaml:"units"`
}

// Catalog is the immutable, insertion-ordered set of unit definitions.
type Catalog struct {
	units []UnitDefinition
	index map[string]int
}

func New(units []UnitDefinition) (*Catalog, error) {
	if len(units) == 0 {
		return nil, ErrEmptyCatalog
	}
	v := validator.New()
	c := &Catalog{
		units: make([]UnitDefinition, 0, len(units)),
		index: make(map[string]int, len(units)),
	}
	for _, u := range units {
		u.ID = strings.TrimSpace(u.ID)
		if err := v.Struct(u); err != nil {
			return nil, fmt.Errorf("unit %q: %w", u.ID, err)
		}
		if _, dup := c.index[u.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, u.ID)
		}
		c.index[u.ID] = len(c.units)
		c.units = append(c.units, u)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Units)
}

// Load reads a catalog from path, falling back to the embedded default when
// path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

func (c *Catalog) Get(id string) (UnitDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return UnitDefinition{}, false
	}
	return c.units[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Units returns a copy of the definitions in catalog order.
func (c *Catalog) Units() []UnitDefinition {
	out := make([]UnitDefinition, len(c.units))
	copy(out, c.units)
	return out
}

func (c *Catalog) IDs() []string {
	out := make([]string, len(c.units))
	for i, u := range c.units {
		out[i] = u.ID
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.units)
}
