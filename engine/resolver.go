/*
resolver.go - Discrepancy analysis and resolution

PURPOSE:
  Reconciles a product after a shipment receipt filed an ErrorLog. The
  resolver owns no data: it reads Product and ErrorLog state, asks the
  chosen Strategy for corrections, applies them through the ProductLedger
  and closes the ErrorLog, all in one transaction.

ANALYSIS:
  expectedInventori = kumulatif - di_timbang
  inventoryDelta    = di_inventori - expectedInventori
  totalAccounted    = di_timbang + di_inventori
  cumulativeDelta   = totalAccounted - kumulatif

AUDIT CONTRACT:
  A resolution requires a non-empty justification note. Each correction
  writes a "correct" log row referencing the error log id, and the note is
  kept on the ErrorLog together with the strategy used.

SEE ALSO:
  - strategy.go: The five strategies
  - ledger.go: correct path
*/
package engine

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// ANALYSIS
// =============================================================================

type Analysis struct {
	ProductID         ProductID
	Kumulatif         int
	DiTimbang         int
	DiInventori       int
	ExpectedInventori int
	InventoryDelta    int
	TotalAccounted    int
	CumulativeDelta   int
}

// Analyze computes where a product's counters disagree.
func Analyze(p Product) Analysis {
	expected := p.Kumulatif - p.DiTimbang
	total := p.DiTimbang + p.DiInventori
	return Analysis{
		ProductID:         p.ID,
		Kumulatif:         p.Kumulatif,
		DiTimbang:         p.DiTimbang,
		DiInventori:       p.DiInventori,
		ExpectedInventori: expected,
		InventoryDelta:    p.DiInventori - expected,
		TotalAccounted:    total,
		CumulativeDelta:   total - p.Kumulatif,
	}
}

// Balanced reports whether the station counters account for kumulatif.
func (a Analysis) Balanced() bool {
	return a.InventoryDelta == 0 && a.CumulativeDelta == 0
}

// StrategyPreview is the plan a strategy would apply right now.
type StrategyPreview struct {
	Strategy    StrategyKind
	Corrections []Correction
	Err         error
}

// ErrorLogAnalysis pairs an error log with its product's current analysis.
type ErrorLogAnalysis struct {
	ErrorLog ErrorLog
	Product  Product
	Analysis Analysis
	Previews []StrategyPreview
}

// =============================================================================
// RESOLVER
// =============================================================================

type DiscrepancyResolver struct {
	*deps
	ledger    *ProductLedger
	errorLogs *ErrorLogStore
}

func (r *DiscrepancyResolver) Analyze(p Product) Analysis {
	return Analyze(p)
}

// AnalyzeErrorLog returns the analysis for the error log's product along
// with what each automatic strategy would do.
func (r *DiscrepancyResolver) AnalyzeErrorLog(ctx context.Context, id ErrorLogID) (ErrorLogAnalysis, error) {
	el, err := r.store.GetErrorLog(ctx, id)
	if err != nil {
		return ErrorLogAnalysis{}, err
	}
	p, err := r.store.GetProduct(ctx, el.ProductID)
	if err != nil {
		return ErrorLogAnalysis{}, err
	}

	a := Analyze(p)
	out := ErrorLogAnalysis{ErrorLog: el, Product: p, Analysis: a}
	for _, st := range AutomaticStrategies() {
		plan, err := st.Plan(a)
		out.Previews = append(out.Previews, StrategyPreview{Strategy: st.Kind(), Corrections: plan, Err: err})
	}
	return out, nil
}

// Resolve applies the strategy's corrections and marks the error log
// resolved. The note is mandatory.
func (r *DiscrepancyResolver) Resolve(ctx context.Context, id ErrorLogID, st Strategy, note string) (Product, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Product{}, invalid("note", "a resolution justification is required")
	}
	if st == nil {
		return Product{}, invalid("strategy", "is required")
	}

	var (
		p  Product
		el ErrorLog
	)
	err := r.store.WithTx(ctx, func(s Store) error {
		var err error
		el, err = s.GetErrorLog(ctx, id)
		if err != nil {
			return err
		}
		if el.Resolved {
			return &ConflictError{Resource: "error log", ID: string(id), Reason: "already resolved"}
		}
		p, err = s.GetProduct(ctx, el.ProductID)
		if err != nil {
			return err
		}

		plan, err := st.Plan(Analyze(p))
		if err != nil {
			return err
		}
		logNote := fmt.Sprintf("%s: %s", st.Kind(), note)
		for _, c := range plan {
			p, err = r.ledger.correct(ctx, s, el.ProductID, c, logNote, string(el.ID))
			if err != nil {
				return err
			}
		}

		el, err = r.errorLogs.markResolved(ctx, s, el, st.Kind(), note)
		return err
	})
	if err != nil {
		r.log.Debug("resolution rejected", "errorLog", id, "strategy", st.Kind(), "err", err)
		return Product{}, err
	}

	r.log.Info("discrepancy resolved", "errorLog", el.ID, "product", p.ID, "strategy", el.Strategy)
	r.emit(TopicProductUpdated, string(p.ID), p)
	r.emit(TopicDiscrepancyResolved, string(el.ID), el)
	return p, nil
}
