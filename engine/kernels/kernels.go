// Package kernels implements the reference dense compute kernel: in-place
// application of a gate's unitary to the resident amplitude pages a plan
// step covers. The kernel performs no I/O and trusts the controller's
// residency guarantee completely.
package kernels

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/rich7420/qpaging/circuit"
	"github.com/rich7420/qpaging/engine"
)

// Dense is the straightforward gather/apply/scatter kernel over complex128
// amplitudes. It handles every gate kind the circuit package admits.
type Dense struct{}

// New returns the dense kernel.
func New() *Dense { return &Dense{} }

// Apply updates, in place, every amplitude group the step covers.
//
// Index walk: a base index has all target bits 0 and all control bits 1.
// The 2^k amplitudes reached from a base by setting target-bit subsets form
// one state group; the gate's 2^k x 2^k matrix mixes exactly that group.
// Bases are enumerated from the step's anchor pages (pages whose high target
// bits are all 0); partner indices land in the step's other pages, which the
// controller has pinned resident.
func (k *Dense) Apply(g circuit.Gate, step engine.PlanStep, view engine.PageView) error {
	geom := view.Geometry()
	mat, err := matrixFor(g)
	if err != nil {
		return err
	}
	dim := 1 << len(g.Targets)

	var targetMask, controlMask uint64
	for _, t := range g.Targets {
		targetMask |= 1 << t
	}
	for _, c := range g.Controls {
		controlMask |= 1 << c
	}

	log2P := geom.Log2PageSize()
	var tgtPageMask int
	for _, t := range g.Targets {
		if t >= log2P {
			tgtPageMask |= 1 << (t - log2P)
		}
	}

	total := geom.TotalAmplitudes()
	pageSize := uint64(geom.PageSize)
	old := make([]complex128, dim)

	for _, pid := range step.Pages {
		if int(pid)&tgtPageMask != 0 {
			continue // partner page, reached from an anchor below it
		}
		base := uint64(pid) * pageSize
		for o := uint64(0); o < pageSize; o++ {
			i := base + o
			if i >= total {
				break
			}
			if i&targetMask != 0 || i&controlMask != controlMask {
				continue
			}
			for m := 0; m < dim; m++ {
				idx := i | spread(uint64(m), g.Targets)
				old[m] = view.Page(geom.PageOf(idx))[geom.OffsetOf(idx)]
			}
			for m := 0; m < dim; m++ {
				var acc complex128
				for n := 0; n < dim; n++ {
					acc += mat[m*dim+n] * old[n]
				}
				idx := i | spread(uint64(m), g.Targets)
				view.Page(geom.PageOf(idx))[geom.OffsetOf(idx)] = acc
			}
		}
	}
	return nil
}

// spread places the bits of m at the global bit positions of the targets:
// bit j of m lands at position targets[j].
func spread(m uint64, targets []int) uint64 {
	var out uint64
	for j, t := range targets {
		if m&(1<<j) != 0 {
			out |= 1 << t
		}
	}
	return out
}

// matrixFor builds the row-major unitary over the gate's targets. Controls
// are not part of the matrix; they are handled by the base-index constraint.
func matrixFor(g circuit.Gate) ([]complex128, error) {
	inv2 := complex(math.Sqrt2/2, 0)
	switch g.Kind {
	case circuit.KindH:
		return []complex128{inv2, inv2, inv2, -inv2}, nil
	case circuit.KindX, circuit.KindCX, circuit.KindCCX:
		return []complex128{0, 1, 1, 0}, nil
	case circuit.KindY:
		return []complex128{0, complex(0, -1), complex(0, 1), 0}, nil
	case circuit.KindZ, circuit.KindCZ:
		return []complex128{1, 0, 0, -1}, nil
	case circuit.KindS:
		return []complex128{1, 0, 0, complex(0, 1)}, nil
	case circuit.KindT:
		return []complex128{1, 0, 0, cmplx.Exp(complex(0, math.Pi/4))}, nil
	case circuit.KindRX:
		half := g.Params[0] / 2
		c, s := complex(math.Cos(half), 0), complex(0, -math.Sin(half))
		return []complex128{c, s, s, c}, nil
	case circuit.KindRY:
		half := g.Params[0] / 2
		c, s := complex(math.Cos(half), 0), complex(math.Sin(half), 0)
		return []complex128{c, -s, s, c}, nil
	case circuit.KindRZ, circuit.KindCRZ:
		half := g.Params[0] / 2
		return []complex128{cmplx.Exp(complex(0, -half)), 0, 0, cmplx.Exp(complex(0, half))}, nil
	case circuit.KindSWAP:
		return []complex128{
			1, 0, 0, 0,
			0, 0, 1, 0,
			0, 1, 0, 0,
			0, 0, 0, 1,
		}, nil
	default:
		return nil, fmt.Errorf("kernel has no matrix for gate kind %q", g.Kind)
	}
}
