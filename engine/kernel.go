package engine

import "github.com/rich7420/qpaging/circuit"

// PageView is the compute kernel's window onto the working set: direct
// access to the amplitudes of the resident pages a step names, and the
// address geometry needed to map global indices into them. The kernel never
// performs I/O and never sees a non-resident page.
type PageView interface {
	// Page returns the in-memory amplitudes of a resident page. Mutations
	// are written in place.
	Page(id PageID) []complex128
	// Geometry returns the run's address arithmetic.
	Geometry() Geometry
}

// Kernel is the compute boundary. The controller guarantees that every page
// in step.Pages is Resident before Apply is dispatched and marks them dirty
// afterwards; the kernel's only job is the in-place unitary update on the
// amplitudes the step covers.
type Kernel interface {
	Apply(g circuit.Gate, step PlanStep, view PageView) error
}
