package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/qurban-ledger/engine"
)

// PreviewJSON is one strategy preview in analyze output.
type PreviewJSON struct {
	Strategy    string   `json:"strategy"`
	Corrections []string `json:"corrections,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// DiscrepancyJSON is one open error log in analyze output.
type DiscrepancyJSON struct {
	ErrorLogID        string        `json:"errorLogId"`
	Product           string        `json:"product"`
	ShipmentID        string        `json:"shipmentId"`
	QuantityExpected  int           `json:"quantityExpected"`
	QuantityActual    int           `json:"quantityActual"`
	Kumulatif         int           `json:"kumulatif"`
	DiTimbang         int           `json:"diTimbang"`
	DiInventori       int           `json:"diInventori"`
	ExpectedInventori int           `json:"expectedInventori"`
	InventoryDelta    int           `json:"inventoryDelta"`
	Previews          []PreviewJSON `json:"previews"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report open discrepancies and what each strategy would do",
		Long: `List every unresolved error log with its product's counters and a
preview of the three automatic resolution strategies. Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(rootOpts, strict, cmd)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when open discrepancies remain")

	return cmd
}

func runAnalyze(opts *RootOptions, strict bool, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	eng := engine.New(st, engine.WithLogger(opts.logger(cmd.ErrOrStderr())))

	open, err := eng.ErrorLogs.List(ctx, engine.ErrorLogFilter{Unresolved: true})
	if err != nil {
		return err
	}

	report := make([]DiscrepancyJSON, 0, len(open))
	for _, el := range open {
		an, err := eng.Resolver.AnalyzeErrorLog(ctx, el.ID)
		if err != nil {
			return err
		}
		report = append(report, toDiscrepancyJSON(an))
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		writeAnalysisText(out, report)
	}

	if strict && len(report) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d open discrepancies", len(report)))
	}
	return nil
}

func toDiscrepancyJSON(an engine.ErrorLogAnalysis) DiscrepancyJSON {
	d := DiscrepancyJSON{
		ErrorLogID:        string(an.ErrorLog.ID),
		Product:           an.Product.Name,
		ShipmentID:        string(an.ErrorLog.ShipmentID),
		QuantityExpected:  an.ErrorLog.QuantityExpected,
		QuantityActual:    an.ErrorLog.QuantityActual,
		Kumulatif:         an.Analysis.Kumulatif,
		DiTimbang:         an.Analysis.DiTimbang,
		DiInventori:       an.Analysis.DiInventori,
		ExpectedInventori: an.Analysis.ExpectedInventori,
		InventoryDelta:    an.Analysis.InventoryDelta,
	}
	for _, pv := range an.Previews {
		p := PreviewJSON{Strategy: string(pv.Strategy)}
		if pv.Err != nil {
			p.Error = pv.Err.Error()
		}
		for _, c := range pv.Corrections {
			p.Corrections = append(p.Corrections, c.String())
		}
		d.Previews = append(d.Previews, p)
	}
	return d
}

func writeAnalysisText(w io.Writer, report []DiscrepancyJSON) {
	if len(report) == 0 {
		fmt.Fprintln(w, "no open discrepancies")
		return
	}
	for _, d := range report {
		fmt.Fprintf(w, "error-log %s product=%q shipment=%s expected=%d actual=%d\n",
			d.ErrorLogID, d.Product, d.ShipmentID, d.QuantityExpected, d.QuantityActual)
		fmt.Fprintf(w, "  kumulatif=%d di_timbang=%d di_inventori=%d expected_inventori=%d inventory_delta=%d\n",
			d.Kumulatif, d.DiTimbang, d.DiInventori, d.ExpectedInventori, d.InventoryDelta)
		for _, p := range d.Previews {
			if p.Error != "" {
				fmt.Fprintf(w, "  %-18s not applicable: %s\n", p.Strategy, p.Error)
				continue
			}
			fmt.Fprintf(w, "  %-18s %s\n", p.Strategy, strings.Join(p.Corrections, ", "))
		}
	}
}
