/*
Package scenario loads and plays back YAML descriptions of a qurban event.

PURPOSE:
  A scenario declares the products of an event and a sequence of operator
  steps (weighing adds, moves, shipments, receipts, cancellations and
  discrepancy resolutions). Playing it against an engine seeds a database
  for demos and produces a deterministic text trace that tests compare
  against golden files.

FORMAT:
  name: weigh-ship-receive
  description: 100 weighed, 70 shipped, 65 arrive
  products:
    - key: sapi
      name: Sapi Limosin
      target: 150
  steps:
    - add: {product: sapi, place: WEIGH, value: 100}
    - ship: {key: truk1, items: [{product: sapi, quantity: 70}]}
    - receive: {shipment: truk1, items: [{product: sapi, quantity: 65}]}
    - resolve: {product: sapi, shipment: truk1, strategy: adjust-weighing, note: timbangan ulang}

  Each step holds exactly one action. A step may set expectError to an
  error kind (validation, not_found, insufficient_stock, conflict); the
  step must then fail with that kind and playback continues.

  Products and shipments are referred to by scenario keys, never by the
  ids the engine assigns, so traces stay stable across runs.

SEE ALSO:
  - run.go: Playback
  - builtin.go: Scenarios shipped with the binary
*/
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/qurban-ledger/engine"
)

type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Products    []ProductSpec `yaml:"products"`
	Steps       []Step        `yaml:"steps"`
}

type ProductSpec struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Target int    `yaml:"target"`
}

// Step holds exactly one action.
type Step struct {
	Add     *MutationStep `yaml:"add,omitempty"`
	Move    *MutationStep `yaml:"move,omitempty"`
	Ship    *ShipStep     `yaml:"ship,omitempty"`
	Receive *ReceiveStep  `yaml:"receive,omitempty"`
	Cancel  *CancelStep   `yaml:"cancel,omitempty"`
	Resolve *ResolveStep  `yaml:"resolve,omitempty"`

	ExpectError string `yaml:"expectError,omitempty"`
}

type MutationStep struct {
	Product string `yaml:"product"`
	Place   string `yaml:"place"`
	Value   int    `yaml:"value"`
	Note    string `yaml:"note,omitempty"`
}

type Quantity struct {
	Product  string `yaml:"product"`
	Quantity int    `yaml:"quantity"`
}

type ShipStep struct {
	Key   string     `yaml:"key"`
	Note  string     `yaml:"note,omitempty"`
	Items []Quantity `yaml:"items"`
}

// ReceiveStep lists counted quantities. Items left out count as 0.
type ReceiveStep struct {
	Shipment string     `yaml:"shipment"`
	Items    []Quantity `yaml:"items"`
}

type CancelStep struct {
	Shipment string `yaml:"shipment"`
	Note     string `yaml:"note"`
}

// ResolveStep closes the error log filed for Product on Shipment.
type ResolveStep struct {
	Product     string `yaml:"product"`
	Shipment    string `yaml:"shipment"`
	Strategy    string `yaml:"strategy"`
	Note        string `yaml:"note"`
	Kumulatif   *int   `yaml:"kumulatif,omitempty"`
	DiTimbang   *int   `yaml:"diTimbang,omitempty"`
	DiInventori *int   `yaml:"diInventori,omitempty"`
}

func (r ResolveStep) overrides() engine.Overrides {
	return engine.Overrides{Kumulatif: r.Kumulatif, DiTimbang: r.DiTimbang, DiInventori: r.DiInventori}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFile reads and validates a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, rejecting unknown fields.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks structure and that every key a step refers to is
// declared before use. Domain rules are left to the engine.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Products) == 0 {
		return errors.New("products list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}

	products := make(map[string]bool, len(s.Products))
	for i, p := range s.Products {
		if p.Key == "" || p.Name == "" {
			return fmt.Errorf("products[%d]: key and name are required", i)
		}
		if products[p.Key] {
			return fmt.Errorf("products[%d]: duplicate key %q", i, p.Key)
		}
		products[p.Key] = true
	}

	shipments := make(map[string]bool)
	knownProduct := func(i int, key string) error {
		if !products[key] {
			return fmt.Errorf("steps[%d]: unknown product %q", i, key)
		}
		return nil
	}
	knownShipment := func(i int, key string) error {
		if !shipments[key] {
			return fmt.Errorf("steps[%d]: unknown shipment %q", i, key)
		}
		return nil
	}

	for i, st := range s.Steps {
		if n := st.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if st.ExpectError != "" && !validKind(st.ExpectError) {
			return fmt.Errorf("steps[%d]: unknown error kind %q", i, st.ExpectError)
		}

		var err error
		switch {
		case st.Add != nil:
			err = knownProduct(i, st.Add.Product)
		case st.Move != nil:
			err = knownProduct(i, st.Move.Product)
		case st.Ship != nil:
			if st.Ship.Key == "" {
				return fmt.Errorf("steps[%d]: ship key is required", i)
			}
			if shipments[st.Ship.Key] {
				return fmt.Errorf("steps[%d]: duplicate shipment key %q", i, st.Ship.Key)
			}
			for _, it := range st.Ship.Items {
				if err = knownProduct(i, it.Product); err != nil {
					break
				}
			}
			shipments[st.Ship.Key] = true
		case st.Receive != nil:
			err = knownShipment(i, st.Receive.Shipment)
			for _, it := range st.Receive.Items {
				if err != nil {
					break
				}
				err = knownProduct(i, it.Product)
			}
		case st.Cancel != nil:
			err = knownShipment(i, st.Cancel.Shipment)
		case st.Resolve != nil:
			if err = knownProduct(i, st.Resolve.Product); err == nil {
				err = knownShipment(i, st.Resolve.Shipment)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (st Step) actions() int {
	n := 0
	for _, set := range []bool{
		st.Add != nil, st.Move != nil, st.Ship != nil,
		st.Receive != nil, st.Cancel != nil, st.Resolve != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func validKind(k string) bool {
	switch engine.Kind(k) {
	case engine.KindValidation, engine.KindNotFound, engine.KindInsufficientStock, engine.KindConflict:
		return true
	}
	return false
}
