package game

import (
	"bytes"
	"fmt"
	"strconv"
)

// Spread is a recommended point spread. The moneyline sentinel ("ML") means
// the qualifier fired without a spread attached; ML spreads pass through flex
// math untouched and match on favored-side direction only.
type Spread struct {
	ML     bool
	Points float64
}

// Moneyline is the ML sentinel value.
var Moneyline = Spread{ML: true}

func PointSpread(p float64) Spread { return Spread{Points: p} }

// Flex widens the spread by half a point in the recommended direction:
// a favorite gets more favored, an underdog gets more underdog. A zero
// spread and ML are unchanged.
func (s Spread) Flex() Spread {
	if s.ML {
		return s
	}
	switch {
	case s.Points > 0:
		return Spread{Points: s.Points + 0.5}
	case s.Points < 0:
		return Spread{Points: s.Points - 0.5}
	default:
		return s
	}
}

// String renders the spread for display: "ML", "+3.5", "-7", "0".
func (s Spread) String() string {
	if s.ML {
		return "ML"
	}
	if s.Points > 0 {
		return "+" + strconv.FormatFloat(s.Points, 'f', -1, 64)
	}
	return strconv.FormatFloat(s.Points, 'f', -1, 64)
}

// MarshalJSON encodes ML as the string "ML" and anything else as a number.
func (s Spread) MarshalJSON() ([]byte, error) {
	if s.ML {
		return []byte(`"ML"`), nil
	}
	return []byte(strconv.FormatFloat(s.Points, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number, a numeric string, the string "ML",
// or null (which the upstream feed uses interchangeably with ML).
func (s *Spread) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Moneyline
		return nil
	}
	if len(data) >= 2 && data[0] == '"' {
		str := string(data[1 : len(data)-1])
		if str == "ML" || str == "ml" || str == "" {
			*s = Moneyline
			return nil
		}
		p, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("parse spread %q: %w", str, err)
		}
		*s = Spread{Points: p}
		return nil
	}
	p, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse spread %s: %w", data, err)
	}
	*s = Spread{Points: p}
	return nil
}
