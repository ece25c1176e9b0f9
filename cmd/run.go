package cmd

import (
	"fmt"
	"math/cmplx"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rich7420/qpaging/circuit"
	"github.com/rich7420/qpaging/engine"
	"github.com/rich7420/qpaging/engine/kernels"
)

var (
	// CLI flags for the run command
	circuitPath        string  // YAML circuit file to execute
	storePath          string  // Backing-store file location
	checkpointPath     string  // Checkpoint manifest location (empty disables)
	checkpointInterval int     // Snapshot every N steps (0 disables)
	budgetPages        int     // Memory budget in pages
	pageSize           int     // Amplitudes per page (power of two)
	lookaheadDepth     int     // Plan steps of prefetch lookahead
	prefetchDepth      int     // Concurrently in-flight transfers
	printLimit         int     // Max basis states printed
	printEps           float64 // Probability threshold for printing
)

// buildConfig merges defaults, the optional config file, and CLI flags.
func buildConfig(cmd *cobra.Command) engine.Config {
	cfg := engine.DefaultConfig()
	if configPath != "" {
		loaded, err := engine.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("unable to read engine config: %v", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("budget-pages") {
		cfg.BudgetPages = budgetPages
	}
	if cmd.Flags().Changed("page-size") {
		cfg.PageSize = pageSize
	}
	if cmd.Flags().Changed("lookahead") {
		cfg.LookaheadDepth = lookaheadDepth
	}
	if cmd.Flags().Changed("prefetch-depth") {
		cfg.PrefetchDepth = prefetchDepth
	}
	if cmd.Flags().Changed("store") || cfg.StorePath == "" {
		cfg.StorePath = storePath
	}
	if checkpointPath != "" {
		cfg.CheckpointPath = checkpointPath
	}
	if cmd.Flags().Changed("checkpoint-interval") {
		cfg.CheckpointInterval = checkpointInterval
	}
	return cfg
}

// printResult reports the measurement distribution of the final state,
// skipping basis states below the probability threshold.
func printResult(ctrl *engine.Controller, numQubits int) error {
	printed := 0
	var norm float64
	err := ctrl.ForEachPage(func(id engine.PageID, amps []complex128) error {
		base := uint64(id) * uint64(len(amps))
		for i, a := range amps {
			idx := base + uint64(i)
			if idx >= uint64(1)<<numQubits {
				break
			}
			p := real(a)*real(a) + imag(a)*imag(a)
			norm += p
			if p >= printEps && printed < printLimit {
				fmt.Printf("|%0*b>  amp=%s  p=%.6f\n", numQubits, idx, formatAmp(a), p)
				printed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("norm=%.9f\n", norm)
	return nil
}

func formatAmp(a complex128) string {
	if cmplx.Abs(a) == 0 {
		return "0"
	}
	return fmt.Sprintf("%.6f%+.6fi", real(a), imag(a))
}

// runCmd executes a circuit file end to end
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a circuit to completion",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if circuitPath == "" {
			logrus.Fatalf("No circuit file provided (--circuit). Exiting.")
		}
		circ, err := circuit.LoadFile(circuitPath)
		if err != nil {
			logrus.Fatalf("unable to load circuit: %v", err)
		}

		cfg := buildConfig(cmd)
		logrus.Infof("Starting run: %d qubits, %d gates, budget=%d pages, page=%d amplitudes",
			circ.NumQubits, len(circ.Gates), cfg.BudgetPages, cfg.PageSize)

		startTime := time.Now()
		cache := engine.NewScheduleCache(cfg.CacheCapacity)
		ctrl, err := engine.NewController(cfg, circ, cache, kernels.New())
		if err != nil {
			logrus.Fatalf("unable to prepare run: %v", err)
		}
		defer ctrl.Close()

		if err := ctrl.Run(); err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
		if err := printResult(ctrl, circ.NumQubits); err != nil {
			logrus.Fatalf("unable to read result: %v", err)
		}
		logrus.Infof("Run complete in %v (%d plan steps).", time.Since(startTime), len(ctrl.Plan().Steps))
	},
}

// init sets up run flags and attaches the subcommand
func init() {
	runCmd.Flags().StringVar(&circuitPath, "circuit", "", "Circuit YAML file")
	runCmd.Flags().StringVar(&storePath, "store", "statevector.qpage", "Backing-store file")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint manifest path (enables checkpointing)")
	runCmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "Snapshot every N steps (0 = only on demand)")
	runCmd.Flags().IntVar(&budgetPages, "budget-pages", 64, "Memory budget in pages")
	runCmd.Flags().IntVar(&pageSize, "page-size", 256, "Amplitudes per page (power of two)")
	runCmd.Flags().IntVar(&lookaheadDepth, "lookahead", 8, "Prefetch lookahead depth in plan steps")
	runCmd.Flags().IntVar(&prefetchDepth, "prefetch-depth", 4, "Concurrently in-flight transfers")
	runCmd.Flags().IntVar(&printLimit, "print-limit", 16, "Max basis states printed")
	runCmd.Flags().Float64Var(&printEps, "print-eps", 1e-9, "Probability threshold for printing")

	rootCmd.AddCommand(runCmd)
}
