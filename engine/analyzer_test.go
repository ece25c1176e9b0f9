package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rich7420/qpaging/circuit"
)

// ghz4 is the 4-qubit GHZ preparation circuit used across the engine tests:
// H(0), CX(0,1), CX(1,2), CX(2,3).
func ghz4() *circuit.Circuit {
	return &circuit.Circuit{
		NumQubits: 4,
		Gates: []circuit.Gate{
			{Kind: circuit.KindH, Targets: []int{0}},
			{Kind: circuit.KindCX, Targets: []int{1}, Controls: []int{0}},
			{Kind: circuit.KindCX, Targets: []int{2}, Controls: []int{1}},
			{Kind: circuit.KindCX, Targets: []int{3}, Controls: []int{2}},
		},
	}
}

func stepPages(plan *AccessPlan, gate int) [][]PageID {
	var out [][]PageID
	for _, st := range plan.Steps {
		if st.Gate == gate {
			out = append(out, st.Pages)
		}
	}
	return out
}

func TestAnalyze_GHZ4WithTwoAmplitudePages(t *testing.T) {
	// GIVEN the 4-qubit GHZ circuit and pages of 2 amplitudes (8 pages total)
	geom := NewGeometry(4, 2)
	plan, err := Analyze(ghz4(), geom, 2)
	if err != nil {
		t.Fatal(err)
	}

	// THEN H(0) acts within single pages: indices differing only in bit 0
	// share a page, so each of the 8 pages forms its own step.
	wantH := [][]PageID{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}}
	if got := stepPages(plan, 0); !reflect.DeepEqual(got, wantH) {
		t.Errorf("H(0) steps: got %v, want %v", got, wantH)
	}

	// CX(0,1): control bit 0 is intra-page, target bit 1 is page bit 0,
	// pairing adjacent pages.
	wantCX01 := [][]PageID{{0, 1}, {2, 3}, {4, 5}, {6, 7}}
	if got := stepPages(plan, 1); !reflect.DeepEqual(got, wantCX01) {
		t.Errorf("CX(0,1) steps: got %v, want %v", got, wantCX01)
	}

	// CX(1,2): control bit 1 restricts to odd pages, target bit 2 pairs
	// across page bit 1.
	wantCX12 := [][]PageID{{1, 3}, {5, 7}}
	if got := stepPages(plan, 2); !reflect.DeepEqual(got, wantCX12) {
		t.Errorf("CX(1,2) steps: got %v, want %v", got, wantCX12)
	}

	// CX(2,3): control bit 2 restricts to pages with bit 1 set, target bit 3
	// pairs across page bit 2 — pages far apart in id space.
	wantCX23 := [][]PageID{{2, 6}, {3, 7}}
	if got := stepPages(plan, 3); !reflect.DeepEqual(got, wantCX23) {
		t.Errorf("CX(2,3) steps: got %v, want %v", got, wantCX23)
	}

	if plan.MaxStepPages() != 2 {
		t.Errorf("max step pages: got %d, want 2", plan.MaxStepPages())
	}
}

func TestAnalyze_PlanIndependentOfParameters(t *testing.T) {
	// GIVEN two structurally identical circuits with different angles
	build := func(theta float64) *circuit.Circuit {
		return &circuit.Circuit{NumQubits: 3, Gates: []circuit.Gate{
			{Kind: circuit.KindRY, Targets: []int{0}, Params: []float64{theta}},
			{Kind: circuit.KindCX, Targets: []int{2}, Controls: []int{0}},
			{Kind: circuit.KindRZ, Targets: []int{2}, Params: []float64{theta * 2}},
		}}
	}
	geom := NewGeometry(3, 2)

	planA, err := Analyze(build(0.25), geom, 4)
	if err != nil {
		t.Fatal(err)
	}
	planB, err := Analyze(build(1.75), geom, 4)
	if err != nil {
		t.Fatal(err)
	}

	// THEN fingerprints and derived step structure are identical
	if planA.Fingerprint != planB.Fingerprint {
		t.Fatalf("fingerprints differ: %s vs %s", planA.Fingerprint, planB.Fingerprint)
	}
	if !reflect.DeepEqual(planA.Steps, planB.Steps) {
		t.Errorf("steps differ between parameter assignments")
	}
	if !reflect.DeepEqual(planA.windows, planB.windows) {
		t.Errorf("lookahead windows differ between parameter assignments")
	}
}

func TestAnalyze_RejectsOutOfRangeQubit(t *testing.T) {
	c := &circuit.Circuit{NumQubits: 2, Gates: []circuit.Gate{
		{Kind: circuit.KindH, Targets: []int{2}},
	}}
	_, err := Analyze(c, NewGeometry(2, 2), 1)
	if !errors.Is(err, circuit.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAnalyze_WideSpanGateAssumesNoLocality(t *testing.T) {
	// GIVEN a CX spanning the lowest and highest qubit of a 6-qubit register
	c := &circuit.Circuit{NumQubits: 6, Gates: []circuit.Gate{
		{Kind: circuit.KindCX, Targets: []int{5}, Controls: []int{0}},
	}}
	geom := NewGeometry(6, 2) // 32 pages, target bit 5 = page bit 4
	plan, err := Analyze(c, geom, 0)
	if err != nil {
		t.Fatal(err)
	}

	// THEN each step pairs page p with page p+16
	for _, st := range plan.Steps {
		if len(st.Pages) != 2 || st.Pages[1]-st.Pages[0] != 16 {
			t.Fatalf("expected pages 16 apart, got %v", st.Pages)
		}
	}
	if len(plan.Steps) != 16 {
		t.Errorf("expected 16 steps, got %d", len(plan.Steps))
	}
}

func TestAnalyze_HighControlHalvesTouchedPages(t *testing.T) {
	// A gate controlled on a high bit must leave control=0 pages untouched.
	c := &circuit.Circuit{NumQubits: 3, Gates: []circuit.Gate{
		{Kind: circuit.KindCX, Targets: []int{0}, Controls: []int{2}},
	}}
	geom := NewGeometry(3, 2) // 4 pages; control bit 2 = page bit 1
	plan, err := Analyze(c, geom, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]PageID{{2}, {3}}
	if got := stepPages(plan, 0); !reflect.DeepEqual(got, want) {
		t.Errorf("touched pages: got %v, want %v", got, want)
	}
	touched := plan.TouchedPages()
	if !reflect.DeepEqual(touched, []PageID{2, 3}) {
		t.Errorf("TouchedPages: got %v", touched)
	}
}

func TestAccessPlan_WindowAndNextUse(t *testing.T) {
	geom := NewGeometry(4, 2)
	plan, err := Analyze(ghz4(), geom, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Window at step 0 spans steps 0..2: pages {0}, {1}, {2}, soonest first.
	if got := plan.Window(0); !reflect.DeepEqual(got, []PageID{0, 1, 2}) {
		t.Errorf("window(0): got %v", got)
	}

	// Page 7 is used by steps 7 (H), 11 (CX01 {6,7}), 13 (CX12 {5,7}), 15 (CX23 {3,7}).
	if next, ok := plan.NextUse(7, 0); !ok || next != 7 {
		t.Errorf("NextUse(7, 0): got %d %v", next, ok)
	}
	if next, ok := plan.NextUse(7, 8); !ok || next != 11 {
		t.Errorf("NextUse(7, 8): got %d %v", next, ok)
	}
	if next, ok := plan.NextUse(7, 14); !ok || next != 15 {
		t.Errorf("NextUse(7, 14): got %d %v", next, ok)
	}
	if _, ok := plan.NextUse(7, 16); ok {
		t.Errorf("NextUse past the plan end should report no use")
	}

	// Pages the plan never touches have no next use at all.
	if _, ok := plan.NextUse(PageID(geom.NumPages()), 0); ok {
		t.Errorf("untouched page reported a next use")
	}
}

func TestAnalyze_RegisterSmallerThanPage(t *testing.T) {
	// A 1-qubit register with 4-amplitude pages fits in a single page.
	c := &circuit.Circuit{NumQubits: 1, Gates: []circuit.Gate{
		{Kind: circuit.KindH, Targets: []int{0}},
	}}
	plan, err := Analyze(c, NewGeometry(1, 4), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || !reflect.DeepEqual(plan.Steps[0].Pages, []PageID{0}) {
		t.Fatalf("unexpected steps: %+v", plan.Steps)
	}
}
