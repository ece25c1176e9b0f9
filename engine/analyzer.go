package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rich7420/qpaging/circuit"
)

// Analyze converts a validated gate sequence into an AccessPlan without
// reading any amplitude data. Analysis is purely structural: numeric gate
// parameters never influence the result, so two circuits with equal
// fingerprints produce identical plans.
//
// Page derivation: a gate on qubit set Q touches every amplitude index pair
// differing only in the bits of Q, with control bits fixed to 1. Mapped to
// page ids, only bit positions at or above the page boundary matter:
//
//   - a control qubit c >= log2(P) constrains touched pages to those whose
//     page-id bit (c - log2(P)) is set;
//   - a target qubit t >= log2(P) pairs page a with page a XOR
//     (1 << (t - log2(P))), and both halves of the pair must be co-resident;
//   - operands below the boundary stay inside a single page and impose no
//     page-level constraint.
//
// Each gate therefore expands into one plan step per co-resident page group.
// Groups may span page ids arbitrarily far apart; no locality is assumed.
func Analyze(c *circuit.Circuit, geom Geometry, lookahead int) (*AccessPlan, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if lookahead < 0 {
		return nil, fmt.Errorf("lookahead depth must be non-negative, got %d", lookahead)
	}

	fp, err := circuit.ComputeFingerprint(c)
	if err != nil {
		return nil, fmt.Errorf("fingerprint circuit: %w", err)
	}

	plan := &AccessPlan{
		Fingerprint: fp,
		Summary:     circuit.StructuralSummary(c),
		NumQubits:   c.NumQubits,
		PageSize:    geom.PageSize,
		Lookahead:   lookahead,
		occurrences: make(map[PageID][]int),
	}

	numPages := geom.NumPages()
	log2P := geom.Log2PageSize()

	for gi, g := range c.Gates {
		ctrlMask, tgtMask := pageMasks(g, log2P)
		for anchor := 0; anchor < numPages; anchor++ {
			if anchor&tgtMask != 0 {
				continue // not a group anchor; reached from a lower page
			}
			if anchor&ctrlMask != ctrlMask {
				continue // some high control bit is 0: pages never touched
			}
			plan.Steps = append(plan.Steps, PlanStep{
				Gate:  gi,
				Pages: expandGroup(anchor, tgtMask),
			})
		}
	}

	for si, step := range plan.Steps {
		if len(step.Pages) > plan.maxStepPages {
			plan.maxStepPages = len(step.Pages)
		}
		for _, id := range step.Pages {
			plan.occurrences[id] = append(plan.occurrences[id], si)
		}
	}

	plan.windows = buildWindows(plan.Steps, lookahead)

	logrus.Debugf("analyzed circuit %s: %d gates, %d steps, %d touched pages, max step %d pages",
		fp[:12], len(c.Gates), len(plan.Steps), len(plan.occurrences), plan.maxStepPages)
	return plan, nil
}

// pageMasks projects a gate's operands onto page-id bit masks. Operands
// below the page boundary vanish: they address within a page.
func pageMasks(g circuit.Gate, log2P int) (ctrlMask, tgtMask int) {
	for _, q := range g.Controls {
		if q >= log2P {
			ctrlMask |= 1 << (q - log2P)
		}
	}
	for _, q := range g.Targets {
		if q >= log2P {
			tgtMask |= 1 << (q - log2P)
		}
	}
	return ctrlMask, tgtMask
}

// expandGroup enumerates the page group reachable from an anchor by setting
// any subset of the high target bits, in ascending page-id order.
func expandGroup(anchor, tgtMask int) []PageID {
	if tgtMask == 0 {
		return []PageID{PageID(anchor)}
	}
	var bitsOf []int
	for b := 0; tgtMask>>b != 0; b++ {
		if tgtMask&(1<<b) != 0 {
			bitsOf = append(bitsOf, b)
		}
	}
	group := make([]PageID, 0, 1<<len(bitsOf))
	for sub := 0; sub < 1<<len(bitsOf); sub++ {
		id := anchor
		for i, b := range bitsOf {
			if sub&(1<<i) != 0 {
				id |= 1 << b
			}
		}
		group = append(group, PageID(id))
	}
	return group
}

// buildWindows precomputes, per step, the deduplicated soonest-first list of
// pages needed within the lookahead horizon.
func buildWindows(steps []PlanStep, lookahead int) [][]PageID {
	windows := make([][]PageID, len(steps))
	for s := range steps {
		end := s + lookahead
		if end >= len(steps) {
			end = len(steps) - 1
		}
		seen := make(map[PageID]bool)
		var w []PageID
		for i := s; i <= end; i++ {
			for _, id := range steps[i].Pages {
				if !seen[id] {
					seen[id] = true
					w = append(w, id)
				}
			}
		}
		windows[s] = w
	}
	return windows
}
