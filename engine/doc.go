// Package engine is the circuit-aware out-of-core memory subsystem for
// state-vector quantum simulation: it lets a simulator work on vectors
// larger than main memory by paging amplitude data to a backing store,
// driven by a statically derived access plan instead of fault-driven OS
// swapping.
//
// # Reading Guide
//
// Start with these files to understand the pipeline:
//   - analyzer.go: gate sequence → AccessPlan (touched page groups per step,
//     lookahead windows, next-use table)
//   - orchestrator.go: the residency manager — budget enforcement, plan-aware
//     (Belady) eviction, prefetch issue, I/O retry policy
//   - controller.go: the run state machine walking the plan step by step
//
// # Architecture
//
// One run wires: Controller → Orchestrator → IOEngine → PageStore, with the
// ScheduleCache shared across runs and the CheckpointManager hanging off the
// orchestrator. The page table is mutated only by the orchestrator; access
// plans are immutable after analysis and shared freely; the I/O engine owns
// in-flight request state and enforces per-page read-after-write ordering.
//
// The compute kernel (engine/kernels) and the CLI front end (cmd) sit
// outside the subsystem and interact with it only through the Kernel and
// Controller boundaries.
package engine
