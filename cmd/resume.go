package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rich7420/qpaging/circuit"
	"github.com/rich7420/qpaging/engine"
	"github.com/rich7420/qpaging/engine/kernels"
)

var resumeManifest string // Checkpoint manifest to restore from

// resumeCmd restores a checkpointed run and drives it to completion
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a run from its latest checkpoint",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if circuitPath == "" {
			logrus.Fatalf("No circuit file provided (--circuit). Exiting.")
		}
		if resumeManifest == "" {
			logrus.Fatalf("No checkpoint manifest provided (--manifest). Exiting.")
		}
		circ, err := circuit.LoadFile(circuitPath)
		if err != nil {
			logrus.Fatalf("unable to load circuit: %v", err)
		}

		cfg := buildConfig(cmd)
		if cfg.CheckpointPath == "" {
			cfg.CheckpointPath = resumeManifest
		}

		startTime := time.Now()
		cache := engine.NewScheduleCache(cfg.CacheCapacity)
		ctrl, err := engine.NewControllerFromCheckpoint(cfg, circ, cache, kernels.New(), resumeManifest)
		if err != nil {
			logrus.Fatalf("unable to restore: %v", err)
		}
		defer ctrl.Close()

		logrus.Infof("Resuming run %s at step %d", ctrl.RunID(), ctrl.Step())
		if err := ctrl.Run(); err != nil {
			logrus.Fatalf("resumed run failed: %v", err)
		}
		if err := printResult(ctrl, circ.NumQubits); err != nil {
			logrus.Fatalf("unable to read result: %v", err)
		}
		logrus.Infof("Resume complete in %v.", time.Since(startTime))
	},
}

// init sets up resume flags and attaches the subcommand
func init() {
	resumeCmd.Flags().StringVar(&resumeManifest, "manifest", "", "Checkpoint manifest to restore from")
	resumeCmd.Flags().StringVar(&circuitPath, "circuit", "", "Circuit YAML file (must match the checkpointed structure)")
	resumeCmd.Flags().StringVar(&storePath, "store", "statevector.qpage", "Backing-store file")
	resumeCmd.Flags().IntVar(&budgetPages, "budget-pages", 64, "Memory budget in pages")
	resumeCmd.Flags().IntVar(&pageSize, "page-size", 256, "Amplitudes per page (power of two)")
	resumeCmd.Flags().IntVar(&lookaheadDepth, "lookahead", 8, "Prefetch lookahead depth in plan steps")
	resumeCmd.Flags().IntVar(&prefetchDepth, "prefetch-depth", 4, "Concurrently in-flight transfers")

	rootCmd.AddCommand(resumeCmd)
}
