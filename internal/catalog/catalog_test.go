package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "clicker", c.IDs()[0])
	clicker, ok := c.Get("clicker")
	require.True(t, ok)
	assert.True(t, clicker.ClickBonus)
	assert.Equal(t, 24, clicker.MaxOwned)
	assert.False(t, clicker.Produces())

	lemon, ok := c.Get("lemonade")
	require.True(t, ok)
	assert.Equal(t, 15.0, lemon.BaseCost)
	assert.True(t, lemon.Produces())
	assert.False(t, lemon.Capped())
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte(`
units:
  - {id: a, base_cost: 10, base_payout: 1, base_cycle_ms: 1000}
  - {id: a, base_cost: 20, base_payout: 2, base_cycle_ms: 1000}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateUnit)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"missing id":     `units: [{base_cost: 10, base_payout: 1, base_cycle_ms: 1000}]`,
		"cheap cost":     `units: [{id: a, base_cost: 2, base_payout: 1, base_cycle_ms: 1000}]`,
		"negative cycle": `units: [{id: a, base_cost: 10, base_payout: 1, base_cycle_ms: -5}]`,
		"not yaml":       `units: [`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestEmptyCatalog(t *testing.T) {
	_, err := Parse([]byte(`units: []`))
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
units:
  - id: farm
    base_cost: 50
    base_payout: 5
    base_cycle_ms: 2000
    display: {color: green}
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	farm, ok := c.Get("farm")
	require.True(t, ok)
	assert.Equal(t, "green", farm.Display["color"])
	assert.False(t, c.Has("lemonade"))
}

func TestUnitsReturnsCopy(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	units := c.Units()
	units[0].ID = "mutated"
	assert.True(t, c.Has("clicker"))
	assert.Equal(t, "clicker", c.Units()[0].ID)
}
