package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/rankeval/internal/eval"
	"github.com/fractal-lba/rankeval/internal/matrix"
	"github.com/fractal-lba/rankeval/internal/metric"
	"github.com/fractal-lba/rankeval/internal/subset"
)

var version = "0.1.0"

var (
	// Global flags
	configFile string

	// Evaluation target
	matrixPath string
	subsetPath string
	modelID    int64
	force      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rankeval",
		Short: "Tie-aware evaluation of ranked classifier predictions",
		Long: `Scores model predictions against labeled matrices under pessimistic,
optimistic and randomized tie-breaking, and stores the results per
model, time window and subset.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(initDBCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&matrixPath, "matrix", "m", "", "Matrix CSV (metadata read from the .yaml sidecar)")
	cmd.Flags().Int64Var(&modelID, "model-id", 0, "Model ID the predictions belong to")
	cmd.Flags().StringVar(&subsetPath, "subset", "", "Subset definition (YAML) to restrict the matrix to")
	cmd.MarkFlagRequired("matrix")
	cmd.MarkFlagRequired("model-id")
}

func loadTarget() (*matrix.InMemory, subset.Spec, error) {
	ms, err := matrix.LoadFile(matrixPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load matrix: %w", err)
	}
	var spec subset.Spec
	if subsetPath != "" {
		spec, err = subset.LoadSpec(subsetPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load subset: %w", err)
		}
	}
	return ms, spec, nil
}

// runCmd evaluates and stores a model's predictions
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate predictions on a matrix and store the results",
		Long: `Evaluates the score column of a matrix against every configured metric
definition for the matrix type and replaces the stored results of the scope.
Skips the work when every definition is already stored, unless --force.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, configFile)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			ms, spec, err := loadTarget()
			if err != nil {
				return err
			}
			if ms.Scores() == nil {
				return fmt.Errorf("matrix %s has no score column", matrixPath)
			}
			app.logger.Infow("Loaded matrix",
				"path", matrixPath,
				"matrix_uuid", ms.UUID(),
				"rows", len(ms.Labels()),
				"labeled", ms.LabeledCount(),
			)

			if !force {
				needed, err := app.modelEval.NeedsEvaluations(ctx, ms, modelID, spec)
				if err != nil {
					return fmt.Errorf("failed to check stored evaluations: %w", err)
				}
				if !needed {
					app.logger.Infow("All evaluations already stored, skipping",
						"model_id", modelID, "matrix_uuid", ms.UUID())
					return nil
				}
			}

			results, err := app.modelEval.Evaluate(ctx, ms.Scores(), ms, modelID, spec)
			if err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}

			printResults(results)
			return app.pushMetrics()
		},
	}

	addTargetFlags(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "Re-evaluate even when results are already stored")

	return cmd
}

// checkCmd reports whether a scope is missing evaluations
func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether any configured evaluation is missing for a model and matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, configFile)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			ms, spec, err := loadTarget()
			if err != nil {
				return err
			}

			needed, err := app.modelEval.NeedsEvaluations(ctx, ms, modelID, spec)
			if err != nil {
				return fmt.Errorf("failed to check stored evaluations: %w", err)
			}

			if needed {
				fmt.Println("evaluations needed")
			} else {
				fmt.Println("up to date")
			}
			return nil
		},
	}

	addTargetFlags(cmd)

	return cmd
}

// metricsCmd lists the available metrics
func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List available metrics and their direction of improvement",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := metric.NewCatalog()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "METRIC\tDIRECTION")
			for _, name := range catalog.Names() {
				d, _ := catalog.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\n", name, d.Direction)
			}
			return w.Flush()
		},
	}
}

// initDBCmd creates the result tables
func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the test and train evaluation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx, configFile)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.store.CreateTables(ctx); err != nil {
				return fmt.Errorf("failed to create tables: %w", err)
			}
			fmt.Println("tables ready")
			return nil
		},
	}
}

func printResults(results []eval.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tPARAMETER\tWORST\tBEST\tSTOCHASTIC\tSTDDEV\tTRIALS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.Metric, r.Parameter,
			formatValue(r.WorstValue), formatValue(r.BestValue),
			formatValue(r.StochasticValue), formatValue(r.StandardDeviation),
			r.NumSortTrials,
		)
	}
	w.Flush()
}

func formatValue(v *float64) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%.4f", *v)
}
