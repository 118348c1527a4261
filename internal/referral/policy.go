package referral

import (
	"fmt"
	"strings"

	"refcommission/internal/money"

	"github.com/shopspring/decimal"
)

// Amount is a value tagged with its currency.
type Amount struct {
	Value    decimal.Decimal
	Currency money.Currency
}

// Policy decides how much each ancestor earns before currency conversion.
type Policy interface {
	Name() string
	// MaxDepth is the deepest level the policy pays; 0 means unbounded.
	MaxDepth() int
	// Share returns the level's amount given the base commission and the
	// amount credited one level below. ok is false when the level earns nothing.
	Share(level int, base, prev Amount) (share Amount, ok bool)
}

const (
	PolicyCascade    = "cascade"
	PolicyFixedTable = "fixed_table"
)

var half = decimal.RequireFromString("0.5")

// Cascade pays the base to the direct referrer and half of the previous
// credit, in the previous ancestor's currency, to each ancestor above.
type Cascade struct{}

func (Cascade) Name() string  { return PolicyCascade }
func (Cascade) MaxDepth() int { return 0 }

func (Cascade) Share(level int, base, prev Amount) (Amount, bool) {
	if level <= 1 {
		return base, true
	}
	return Amount{Value: prev.Value.Mul(half), Currency: prev.Currency}, true
}

// DefaultTable is the percentage of the base paid at levels 1 to 7.
var DefaultTable = []decimal.Decimal{
	decimal.NewFromInt(40),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
	decimal.NewFromInt(10),
	decimal.NewFromInt(5),
	decimal.RequireFromString("2.5"),
	decimal.RequireFromString("1.25"),
}

// FixedTable pays a fixed percentage of the base per level.
type FixedTable struct {
	Percents []decimal.Decimal
}

func (FixedTable) Name() string { return PolicyFixedTable }

func (f FixedTable) MaxDepth() int { return len(f.table()) }

func (f FixedTable) Share(level int, base, _ Amount) (Amount, bool) {
	table := f.table()
	if level < 1 || level > len(table) {
		return Amount{}, false
	}
	return Amount{Value: money.Percent(base.Value, table[level-1]), Currency: base.Currency}, true
}

func (f FixedTable) table() []decimal.Decimal {
	if len(f.Percents) == 0 {
		return DefaultTable
	}
	return f.Percents
}

// ParsePolicy maps a configuration value to a policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyCascade:
		return Cascade{}, nil
	case PolicyFixedTable, "fixed":
		return FixedTable{}, nil
	default:
		return nil, fmt.Errorf("unknown commission policy %q", name)
	}
}
