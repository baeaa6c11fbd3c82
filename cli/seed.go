package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/scenario"
)

// SeedResult is the JSON output of the seed command.
type SeedResult struct {
	Name  string   `json:"name"`
	Trace []string `json:"trace"`
	Error string   `json:"error,omitempty"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "seed [scenario.yaml | builtin-name]",
		Short: "Play a scenario against the database",
		Long: `Play a YAML scenario, or one of the built-in scenarios, against the
configured database and print its trace.

Products are created fresh on every run; seeding twice creates two sets.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return runSeedList(rootOpts, cmd)
			}
			if len(args) == 0 {
				return NewExitError(ExitCommandError, "a scenario file or built-in name is required")
			}
			return runSeed(rootOpts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "list built-in scenarios")

	return cmd
}

// loadScenario reads a file when arg names one, otherwise a built-in.
func loadScenario(arg string) (*scenario.Scenario, error) {
	if _, err := os.Stat(arg); err == nil {
		return scenario.LoadFile(arg)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return scenario.Lookup(arg)
}

func runSeed(opts *RootOptions, arg string, cmd *cobra.Command) error {
	sc, err := loadScenario(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	eng := engine.New(st, engine.WithLogger(opts.logger(cmd.ErrOrStderr())))
	res, runErr := scenario.Run(cmd.Context(), eng, sc)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		sr := SeedResult{Name: sc.Name, Trace: res.Trace}
		if runErr != nil {
			sr.Error = runErr.Error()
		}
		if err := writeJSON(out, sr); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, res.Text())
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "scenario "+sc.Name+" failed", runErr)
	}
	return nil
}

func runSeedList(opts *RootOptions, cmd *cobra.Command) error {
	infos, err := scenario.List()
	if err != nil {
		return err
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), infos)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, in := range infos {
		fmt.Fprintf(tw, "%s\t%s\n", in.ID, in.Description)
	}
	return tw.Flush()
}
