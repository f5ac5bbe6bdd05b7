package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpreadFlex(t *testing.T) {
	tests := []struct {
		name string
		in   Spread
		want Spread
	}{
		{"favorite widens down", PointSpread(-3), PointSpread(-3.5)},
		{"underdog widens up", PointSpread(7), PointSpread(7.5)},
		{"half point favorite", PointSpread(-0.5), PointSpread(-1)},
		{"zero unchanged", PointSpread(0), PointSpread(0)},
		{"moneyline unchanged", Moneyline, Moneyline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Flex())
		})
	}
}

func TestSpreadString(t *testing.T) {
	assert.Equal(t, "+3.5", PointSpread(3.5).String())
	assert.Equal(t, "-7", PointSpread(-7).String())
	assert.Equal(t, "0", PointSpread(0).String())
	assert.Equal(t, "ML", Moneyline.String())
}

func TestSpreadJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Spread
	}{
		{"number", `-3.5`, PointSpread(-3.5)},
		{"numeric string", `"7.5"`, PointSpread(7.5)},
		{"ML string", `"ML"`, Moneyline},
		{"null means ML", `null`, Moneyline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Spread
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, s)
		})
	}

	out, err := json.Marshal(PointSpread(-3.5))
	require.NoError(t, err)
	assert.Equal(t, `-3.5`, string(out))

	out, err = json.Marshal(Moneyline)
	require.NoError(t, err)
	assert.Equal(t, `"ML"`, string(out))

	var bad Spread
	assert.Error(t, json.Unmarshal([]byte(`"not-a-spread"`), &bad))
}
