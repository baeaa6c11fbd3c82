package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/qurban-ledger/engine"
)

// Result is the outcome of playing a scenario.
type Result struct {
	Name      string
	Products  map[string]engine.Product
	Shipments map[string]engine.Shipment
	ErrorLogs map[string]engine.ErrorLog // keyed "shipment/product"
	Trace     []string
}

// Text returns the trace as newline-terminated lines.
func (r *Result) Text() string {
	return strings.Join(r.Trace, "\n") + "\n"
}

type player struct {
	eng *engine.Engine
	sc  *Scenario
	res *Result

	keys map[engine.ProductID]string
}

// Run creates the scenario's products and plays every step against eng.
// A step that fails without a matching expectError stops playback.
func Run(ctx context.Context, eng *engine.Engine, sc *Scenario) (*Result, error) {
	p := &player{
		eng: eng,
		sc:  sc,
		res: &Result{
			Name:      sc.Name,
			Products:  make(map[string]engine.Product),
			Shipments: make(map[string]engine.Shipment),
			ErrorLogs: make(map[string]engine.ErrorLog),
		},
		keys: make(map[engine.ProductID]string),
	}

	p.tracef("scenario %s", sc.Name)
	for _, ps := range sc.Products {
		prod, err := eng.CreateProduct(ctx, ps.Name, ps.Target)
		if err != nil {
			return p.res, fmt.Errorf("product %s: %w", ps.Key, err)
		}
		p.res.Products[ps.Key] = prod
		p.keys[prod.ID] = ps.Key
		p.tracef("product %s %q target=%d", ps.Key, ps.Name, ps.Target)
	}

	for i, st := range sc.Steps {
		head, err := p.step(ctx, st)
		if err != nil {
			if st.ExpectError == "" {
				return p.res, fmt.Errorf("steps[%d]: %w", i, err)
			}
			if kind := engine.KindOf(err); string(kind) != st.ExpectError {
				return p.res, fmt.Errorf("steps[%d]: expected %s error, got %s: %w", i, st.ExpectError, kind, err)
			}
			p.tracef("%s -> error %s", head, engine.KindOf(err))
			continue
		}
		if st.ExpectError != "" {
			return p.res, fmt.Errorf("steps[%d]: expected %s error, step succeeded", i, st.ExpectError)
		}
	}

	if err := p.refresh(ctx); err != nil {
		return p.res, err
	}
	p.tracef("final")
	for _, ps := range sc.Products {
		prod := p.res.Products[ps.Key]
		p.tracef("  %s %s balanced=%t", ps.Key, counters(prod), prod.Balanced())
	}
	return p.res, nil
}

// step runs one action. It returns the trace head used when the step fails.
func (p *player) step(ctx context.Context, st Step) (string, error) {
	switch {
	case st.Add != nil:
		return p.mutate(ctx, engine.EventAdd, st.Add)
	case st.Move != nil:
		return p.mutate(ctx, engine.EventMove, st.Move)
	case st.Ship != nil:
		return p.ship(ctx, st.Ship)
	case st.Receive != nil:
		return p.receive(ctx, st.Receive)
	case st.Cancel != nil:
		return p.cancel(ctx, st.Cancel)
	default:
		return p.resolve(ctx, st.Resolve)
	}
}

func (p *player) mutate(ctx context.Context, ev engine.Event, m *MutationStep) (string, error) {
	head := fmt.Sprintf("%s %s %s %d", ev, m.Product, m.Place, m.Value)
	id := p.res.Products[m.Product].ID
	prod, err := p.eng.AddProductLog(ctx, id, ev, engine.Place(m.Place), m.Value, m.Note)
	if err != nil {
		return head, err
	}
	p.res.Products[m.Product] = prod
	p.tracef("%s -> %s", head, counters(prod))
	return head, nil
}

func (p *player) ship(ctx context.Context, s *ShipStep) (string, error) {
	head := fmt.Sprintf("ship %s %s", s.Key, quantities(s.Items))
	items := make([]engine.ShipmentItem, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, engine.ShipmentItem{ProductID: p.res.Products[it.Product].ID, Quantity: it.Quantity})
	}
	sh, err := p.eng.CreateShipment(ctx, items, s.Note)
	if err != nil {
		return head, err
	}
	p.res.Shipments[s.Key] = sh
	p.tracef("%s -> %s", head, sh.Status)
	return head, p.traceProducts(ctx, sh)
}

func (p *player) receive(ctx context.Context, r *ReceiveStep) (string, error) {
	head := fmt.Sprintf("receive %s %s", r.Shipment, quantities(r.Items))
	items := make([]engine.ReceivedItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, engine.ReceivedItem{ProductID: p.res.Products[it.Product].ID, Quantity: it.Quantity})
	}
	res, err := p.eng.ReceiveShipment(ctx, p.res.Shipments[r.Shipment].ID, items)
	if err != nil {
		return head, err
	}
	p.res.Shipments[r.Shipment] = res.Shipment
	p.tracef("%s -> %s discrepancies=%d", head, res.Shipment.Status, len(res.Discrepancies))
	for _, el := range res.Discrepancies {
		key := p.keys[el.ProductID]
		p.res.ErrorLogs[r.Shipment+"/"+key] = el
		p.tracef("  discrepancy %s expected=%d actual=%d", key, el.QuantityExpected, el.QuantityActual)
	}
	return head, p.traceProducts(ctx, res.Shipment)
}

func (p *player) cancel(ctx context.Context, c *CancelStep) (string, error) {
	head := fmt.Sprintf("cancel %s", c.Shipment)
	sh, err := p.eng.CancelShipment(ctx, p.res.Shipments[c.Shipment].ID, c.Note)
	if err != nil {
		return head, err
	}
	p.res.Shipments[c.Shipment] = sh
	p.tracef("%s -> %s", head, sh.Status)
	return head, p.traceProducts(ctx, sh)
}

func (p *player) resolve(ctx context.Context, r *ResolveStep) (string, error) {
	head := fmt.Sprintf("resolve %s@%s %s", r.Product, r.Shipment, r.Strategy)
	el, ok := p.res.ErrorLogs[r.Shipment+"/"+r.Product]
	if !ok {
		return head, &engine.NotFoundError{Resource: "error log", ID: r.Shipment + "/" + r.Product}
	}
	st, err := engine.ParseStrategy(r.Strategy, r.overrides())
	if err != nil {
		return head, err
	}
	prod, err := p.eng.ResolveDiscrepancy(ctx, el.ID, st, r.Note)
	if err != nil {
		return head, err
	}
	p.res.Products[r.Product] = prod
	if el, err = p.eng.ErrorLogs.Get(ctx, el.ID); err != nil {
		return head, err
	}
	p.res.ErrorLogs[r.Shipment+"/"+r.Product] = el
	p.tracef("%s -> %s", head, counters(prod))
	return head, nil
}

// traceProducts refreshes and prints every product on the shipment.
func (p *player) traceProducts(ctx context.Context, sh engine.Shipment) error {
	for _, li := range sh.LineItems {
		prod, err := p.eng.Ledger.Product(ctx, li.ProductID)
		if err != nil {
			return err
		}
		key := p.keys[li.ProductID]
		p.res.Products[key] = prod
		p.tracef("  %s %s", key, counters(prod))
	}
	return nil
}

func (p *player) refresh(ctx context.Context) error {
	for key, prod := range p.res.Products {
		fresh, err := p.eng.Ledger.Product(ctx, prod.ID)
		if err != nil {
			return err
		}
		p.res.Products[key] = fresh
	}
	return nil
}

func (p *player) tracef(format string, args ...any) {
	p.res.Trace = append(p.res.Trace, fmt.Sprintf(format, args...))
}

func counters(p engine.Product) string {
	return fmt.Sprintf("kumulatif=%d di_timbang=%d di_inventori=%d", p.Kumulatif, p.DiTimbang, p.DiInventori)
}

func quantities(items []Quantity) string {
	if len(items) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s=%d", it.Product, it.Quantity))
	}
	return strings.Join(parts, " ")
}
