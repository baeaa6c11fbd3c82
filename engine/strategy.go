/*
strategy.go - Discrepancy resolution strategies

PURPOSE:
  The five operator-selected corrective actions, modeled as a closed set of
  types behind the sealed Strategy interface. Each strategy turns the
  current Analysis into the concrete counter corrections to apply. None is
  applied automatically and there is no default.

STRATEGIES:
  AdjustInventory   di_inventori := kumulatif - di_timbang
                    (trusts weighing + cumulative)
  AdjustWeighing    di_timbang := kumulatif - di_inventori
                    (trusts inventory + cumulative)
  AdjustCumulative  kumulatif := di_timbang + di_inventori
                    (trusts both station counters)
  Recount           operator supplies all three freshly counted values
  Manual            operator overrides any non-empty subset of the three

  A plan that would set a counter below zero is rejected.

SEE ALSO:
  - resolver.go: Applies a plan and closes the error log
*/
package engine

import "fmt"

type StrategyKind string

const (
	StrategyAdjustInventory  StrategyKind = "adjust-inventory"
	StrategyAdjustWeighing   StrategyKind = "adjust-weighing"
	StrategyAdjustCumulative StrategyKind = "adjust-cumulative"
	StrategyRecount          StrategyKind = "recount"
	StrategyManual           StrategyKind = "manual"
)

// Correction is an absolute set of one counter.
type Correction struct {
	Counter Counter
	Value   int
}

// Strategy is implemented only by the types in this file.
type Strategy interface {
	Kind() StrategyKind
	Plan(a Analysis) ([]Correction, error)
	sealed()
}

// =============================================================================
// STRATEGIES
// =============================================================================

type AdjustInventory struct{}

func (AdjustInventory) Kind() StrategyKind { return StrategyAdjustInventory }
func (AdjustInventory) sealed()            {}

func (AdjustInventory) Plan(a Analysis) ([]Correction, error) {
	return checkPlan([]Correction{{Counter: CounterInventory, Value: a.ExpectedInventori}})
}

type AdjustWeighing struct{}

func (AdjustWeighing) Kind() StrategyKind { return StrategyAdjustWeighing }
func (AdjustWeighing) sealed()            {}

func (AdjustWeighing) Plan(a Analysis) ([]Correction, error) {
	return checkPlan([]Correction{{Counter: CounterWeigh, Value: a.Kumulatif - a.DiInventori}})
}

type AdjustCumulative struct{}

func (AdjustCumulative) Kind() StrategyKind { return StrategyAdjustCumulative }
func (AdjustCumulative) sealed()            {}

func (AdjustCumulative) Plan(a Analysis) ([]Correction, error) {
	return checkPlan([]Correction{{Counter: CounterCumulative, Value: a.TotalAccounted}})
}

// Recount carries freshly measured values for all three counters.
type Recount struct {
	Kumulatif   int
	DiTimbang   int
	DiInventori int
}

func (Recount) Kind() StrategyKind { return StrategyRecount }
func (Recount) sealed()            {}

func (r Recount) Plan(Analysis) ([]Correction, error) {
	return checkPlan([]Correction{
		{Counter: CounterCumulative, Value: r.Kumulatif},
		{Counter: CounterWeigh, Value: r.DiTimbang},
		{Counter: CounterInventory, Value: r.DiInventori},
	})
}

// Manual overrides any subset of the counters; nil fields are left alone.
type Manual struct {
	Kumulatif   *int
	DiTimbang   *int
	DiInventori *int
}

func (Manual) Kind() StrategyKind { return StrategyManual }
func (Manual) sealed()            {}

func (m Manual) Plan(Analysis) ([]Correction, error) {
	var plan []Correction
	if m.Kumulatif != nil {
		plan = append(plan, Correction{Counter: CounterCumulative, Value: *m.Kumulatif})
	}
	if m.DiTimbang != nil {
		plan = append(plan, Correction{Counter: CounterWeigh, Value: *m.DiTimbang})
	}
	if m.DiInventori != nil {
		plan = append(plan, Correction{Counter: CounterInventory, Value: *m.DiInventori})
	}
	if len(plan) == 0 {
		return nil, invalid("overrideValues", "manual resolution needs at least one counter")
	}
	return checkPlan(plan)
}

func checkPlan(plan []Correction) ([]Correction, error) {
	for _, c := range plan {
		if c.Value < 0 {
			return nil, invalid(string(c.Counter), "correction would set a negative value %d", c.Value)
		}
		if c.Value > MaxQuantity {
			return nil, invalid(string(c.Counter), "correction must not exceed %d, got %d", MaxQuantity, c.Value)
		}
	}
	return plan, nil
}

// =============================================================================
// PARSING
// =============================================================================

// Overrides are operator-supplied counter values for recount and manual.
type Overrides struct {
	Kumulatif   *int
	DiTimbang   *int
	DiInventori *int
}

func (o Overrides) empty() bool {
	return o.Kumulatif == nil && o.DiTimbang == nil && o.DiInventori == nil
}

// ParseStrategy builds a Strategy from its wire name. An empty kind is
// rejected: the operator must always choose.
func ParseStrategy(kind string, o Overrides) (Strategy, error) {
	switch StrategyKind(kind) {
	case "":
		return nil, invalid("strategy", "is required")
	case StrategyAdjustInventory, StrategyAdjustWeighing, StrategyAdjustCumulative:
		if !o.empty() {
			return nil, invalid("overrideValues", "%s does not take override values", kind)
		}
		switch StrategyKind(kind) {
		case StrategyAdjustInventory:
			return AdjustInventory{}, nil
		case StrategyAdjustWeighing:
			return AdjustWeighing{}, nil
		default:
			return AdjustCumulative{}, nil
		}
	case StrategyRecount:
		if o.Kumulatif == nil || o.DiTimbang == nil || o.DiInventori == nil {
			return nil, invalid("overrideValues", "recount needs kumulatif, diTimbang and diInventori")
		}
		return Recount{Kumulatif: *o.Kumulatif, DiTimbang: *o.DiTimbang, DiInventori: *o.DiInventori}, nil
	case StrategyManual:
		if o.empty() {
			return nil, invalid("overrideValues", "manual resolution needs at least one counter")
		}
		return Manual{Kumulatif: o.Kumulatif, DiTimbang: o.DiTimbang, DiInventori: o.DiInventori}, nil
	}
	return nil, invalid("strategy", "unknown strategy %q", kind)
}

// AutomaticStrategies are the strategies that need no operator values.
func AutomaticStrategies() []Strategy {
	return []Strategy{AdjustInventory{}, AdjustWeighing{}, AdjustCumulative{}}
}

func (c Correction) String() string {
	return fmt.Sprintf("%s := %d", c.Counter, c.Value)
}
