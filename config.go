package xdh

import (
	"github.com/pkg/errors"

	"github.com/fumin/xdh/grid"
	"github.com/fumin/xdh/scf"
)

var (
	// ErrShape is returned when a trial matrix does not match the requested orbital spaces.
	ErrShape = errors.New("shape mismatch")
	// ErrAOSlice is returned when the atomic orbitals are not partitioned contiguously by atom.
	ErrAOSlice = errors.New("invalid atomic orbital partition")
)

// Config configures a gradient computation. Use NewConfig for the defaults.
type Config struct {
	// SCF is the converged reference.
	SCF *scf.Result
	// NC evaluates the non-consistent functional on the reference density.
	NC *scf.Solver

	// CC scales the second order correlation energy,
	// SS and OS scale its same spin and opposite spin parts.
	CC float64
	SS float64
	OS float64

	// CPHFGrids are the grids of the response kernel in the CPHF equations.
	// The grids of the reference are used when nil.
	CPHFGrids *grid.Grids
	// MaxMemory is the memory budget in megabytes of one grid batch.
	MaxMemory float64

	// ScratchDir enables spilling large cached tensors to a sqlite store in this directory.
	ScratchDir string
	// SpillBytes is the size from which a cached tensor is spilled.
	SpillBytes int

	Verbose bool
}

func NewConfig(ref *scf.Result) Config {
	cfg := Config{SCF: ref}
	cfg.CC = 1
	cfg.SS = 1
	cfg.OS = 1
	cfg.MaxMemory = 2000
	cfg.SpillBytes = 1 << 20
	return cfg
}

// Span is the half open range of orbitals [Lo, Hi).
// The zero Span means that the range is omitted.
type Span struct {
	Lo, Hi int
}

func (s Span) Len() int { return s.Hi - s.Lo }

func (s Span) omitted() bool { return s == Span{} }
