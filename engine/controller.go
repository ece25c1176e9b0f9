package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/rich7420/qpaging/circuit"
)

// Phase is the controller's state machine position:
// Idle → Planning → Executing ⇄ Checkpointing → Completed | Failed.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseExecuting
	PhaseCheckpointing
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlanning:
		return "planning"
	case PhaseExecuting:
		return "executing"
	case PhaseCheckpointing:
		return "checkpointing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Controller drives one circuit's gate-by-gate execution: plan acquisition
// through the schedule cache, residency guarantees through the orchestrator,
// kernel dispatch, and periodic checkpointing. It is the single point that
// decides between retry and terminal failure; every error below it arrives
// as a tagged, wrapped value.
type Controller struct {
	cfg    Config
	circ   *circuit.Circuit
	geom   Geometry
	cache  *ScheduleCache
	kernel Kernel

	runID    string
	store    PageStore
	table    *PageTable
	orch     *Orchestrator
	ckpt     *CheckpointManager
	plan     *AccessPlan
	phase    Phase
	step     int
	restored bool
	aborted  atomic.Bool

	// OnStep, when set, observes the orchestrator after every executed step.
	// Used by tests to check invariants at each observation point.
	OnStep func(step int, orch *Orchestrator)
}

// NewController prepares a fresh run over a new backing store.
func NewController(cfg Config, circ *circuit.Circuit, cache *ScheduleCache, kernel Kernel) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := circ.Validate(); err != nil {
		return nil, err
	}
	geom := NewGeometry(circ.NumQubits, cfg.PageSize)
	store, err := NewFileStore(cfg.StorePath, cfg.PageSize, cfg.MaxStoreBytes)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg,
		circ:   circ,
		geom:   geom,
		cache:  cache,
		kernel: kernel,
		runID:  xid.New().String(),
		store:  store,
		table:  NewPageTable(geom.NumPages()),
		phase:  PhaseIdle,
	}, nil
}

// NewControllerFromCheckpoint prepares a run resuming from the manifest at
// path. The circuit must be structurally identical to the checkpointed one;
// the access plan is re-derived from the schedule cache or by fresh
// analysis. A resumed run produces final amplitudes bit-for-bit identical to
// an uninterrupted run.
func NewControllerFromCheckpoint(cfg Config, circ *circuit.Circuit, cache *ScheduleCache, kernel Kernel, manifestPath string) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := circ.Validate(); err != nil {
		return nil, err
	}
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	fp, err := circuit.ComputeFingerprint(circ)
	if err != nil {
		return nil, err
	}
	if string(fp) != m.Fingerprint {
		return nil, fmt.Errorf("%w: checkpoint belongs to a different circuit structure", ErrCorruptCheckpoint)
	}
	if m.NumQubits != circ.NumQubits || m.PageSize != cfg.PageSize {
		return nil, fmt.Errorf("%w: geometry mismatch (manifest %d qubits / page %d, run %d / %d)",
			ErrCorruptCheckpoint, m.NumQubits, m.PageSize, circ.NumQubits, cfg.PageSize)
	}
	geom := NewGeometry(circ.NumQubits, cfg.PageSize)
	table, err := m.TableFromManifest(geom.NumPages())
	if err != nil {
		return nil, err
	}
	store, err := OpenFileStore(cfg.StorePath, cfg.PageSize, m.NextOffset, cfg.MaxStoreBytes)
	if err != nil {
		return nil, err
	}
	logrus.Infof("restoring run %s from checkpoint %s at step %d", m.RunID, m.CheckpointID, m.Step)
	return &Controller{
		cfg:      cfg,
		circ:     circ,
		geom:     geom,
		cache:    cache,
		kernel:   kernel,
		runID:    m.RunID,
		store:    store,
		table:    table,
		step:     m.Step,
		restored: true,
		phase:    PhaseIdle,
	}, nil
}

// Phase reports the controller's current state.
func (c *Controller) Phase() Phase { return c.phase }

// Step reports the next plan step to execute.
func (c *Controller) Step() int { return c.step }

// RunID identifies this run across checkpoints.
func (c *Controller) RunID() string { return c.runID }

// Plan exposes the access plan after Planning completed.
func (c *Controller) Plan() *AccessPlan { return c.plan }

// Orchestrator exposes the residency manager for inspection.
func (c *Controller) Orchestrator() *Orchestrator { return c.orch }

// Abort requests cancellation. The run stops between steps, drains in-flight
// transfers, and leaves the page table consistent with the last checkpoint.
func (c *Controller) Abort() { c.aborted.Store(true) }

// Run executes the circuit to completion (or failure). Safe to call once.
func (c *Controller) Run() error {
	if err := c.planPhase(); err != nil {
		return c.fail(err)
	}
	if err := c.execute(); err != nil {
		return c.fail(err)
	}
	c.phase = PhaseCompleted
	logrus.Infof("run %s completed: %d steps", c.runID, len(c.plan.Steps))
	return nil
}

// planPhase covers the Planning phase: schedule-cache lookup, analysis on miss,
// and the up-front capacity check, all before any amplitude work.
func (c *Controller) planPhase() error {
	c.phase = PhasePlanning
	fp, err := circuit.ComputeFingerprint(c.circ)
	if err != nil {
		return err
	}
	summary := circuit.StructuralSummary(c.circ)

	plan := c.cache.Lookup(fp, summary, c.cfg.PageSize, c.cfg.LookaheadDepth)
	if plan == nil {
		plan, err = Analyze(c.circ, c.geom, c.cfg.LookaheadDepth)
		if err != nil {
			return err
		}
		c.cache.Insert(plan)
		logrus.Debugf("run %s: analyzed plan for %s", c.runID, fp[:12])
	} else {
		logrus.Debugf("run %s: schedule cache hit for %s", c.runID, fp[:12])
	}
	c.plan = plan

	// Capacity is a configuration error, surfaced before execution starts.
	if plan.MaxStepPages() > c.cfg.BudgetPages {
		return fmt.Errorf("%w: plan needs %d co-resident pages, budget is %d",
			ErrCapacity, plan.MaxStepPages(), c.cfg.BudgetPages)
	}

	c.orch = NewOrchestrator(c.geom, c.cfg, plan, c.table, c.store)
	if c.cfg.CheckpointPath != "" {
		c.ckpt = NewCheckpointManager(c.cfg.CheckpointPath, c.runID, fp, c.geom, c.orch, c.store)
	}

	if !c.restored {
		if err := c.initState(); err != nil {
			return err
		}
	}
	return nil
}

// initState writes the |0...0> amplitude into page 0 of a fresh run.
func (c *Controller) initState() error {
	if err := c.orch.EnsureResident([]PageID{0}); err != nil {
		return err
	}
	c.orch.Page(0)[0] = 1
	c.orch.MarkDirty([]PageID{0})
	return nil
}

// execute walks the plan step by step, overlapping prefetch with compute.
func (c *Controller) execute() error {
	c.phase = PhaseExecuting
	for ; c.step < len(c.plan.Steps); c.step++ {
		if c.aborted.Load() {
			if err := c.orch.DrainAll(); err != nil {
				return err
			}
			return fmt.Errorf("%w: at step %d", ErrAborted, c.step)
		}
		st := c.plan.Steps[c.step]

		if err := c.orch.PrefetchWindow(c.step); err != nil {
			return err
		}
		if err := c.orch.EnsureResident(st.Pages); err != nil {
			return err
		}
		if err := c.kernel.Apply(c.circ.Gates[st.Gate], st, c.orch); err != nil {
			return fmt.Errorf("kernel at step %d: %w", c.step, err)
		}
		c.orch.MarkDirty(st.Pages)

		if c.OnStep != nil {
			c.OnStep(c.step, c.orch)
		}
		if c.ckpt != nil && c.cfg.CheckpointInterval > 0 && (c.step+1)%c.cfg.CheckpointInterval == 0 {
			c.phase = PhaseCheckpointing
			if _, err := c.ckpt.Snapshot(c.step + 1); err != nil {
				return err
			}
			c.phase = PhaseExecuting
		}
	}
	return c.orch.DrainAll()
}

// Checkpoint takes an on-demand snapshot at the current step boundary.
func (c *Controller) Checkpoint() (*Manifest, error) {
	if c.ckpt == nil {
		return nil, fmt.Errorf("checkpointing disabled: no checkpoint path configured")
	}
	prev := c.phase
	c.phase = PhaseCheckpointing
	m, err := c.ckpt.Snapshot(c.step)
	c.phase = prev
	return m, err
}

// fail records the terminal Failed state.
func (c *Controller) fail(err error) error {
	c.phase = PhaseFailed
	logrus.Errorf("run %s failed: %v", c.runID, err)
	if c.orch != nil {
		// Leave no transfer dangling; drain errors are secondary here.
		_ = c.orch.DrainAll()
	}
	return err
}

// ForEachPage streams the final amplitude vector page by page, in page-id
// order, after the run reached Completed. The buffer is reused between
// callbacks.
func (c *Controller) ForEachPage(fn func(id PageID, amps []complex128) error) error {
	if c.phase != PhaseCompleted {
		return fmt.Errorf("result unavailable in phase %s", c.phase)
	}
	buf := make([]complex128, c.geom.PageSize)
	for i := 0; i < c.geom.NumPages(); i++ {
		if err := c.orch.ReadPageInto(PageID(i), buf); err != nil {
			return err
		}
		if err := fn(PageID(i), buf); err != nil {
			return err
		}
	}
	return nil
}

// Amplitudes materializes the full final state vector. Intended for small
// registers (tests, CLI output); large runs should stream with ForEachPage.
func (c *Controller) Amplitudes() ([]complex128, error) {
	total := c.geom.TotalAmplitudes()
	out := make([]complex128, 0, total)
	err := c.ForEachPage(func(id PageID, amps []complex128) error {
		out = append(out, amps...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out[:total], nil
}

// Close releases the orchestrator, I/O engine and backing store.
func (c *Controller) Close() error {
	var first error
	if c.orch != nil {
		if err := c.orch.Close(); err != nil {
			first = err
		}
	}
	if err := c.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
