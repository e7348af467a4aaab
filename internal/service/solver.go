package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// NewSolver returns the solver registered under name. The ILP solver uses
// backend, or the branch-and-bound backend when backend is nil.
func NewSolver(name domain.SolverName, logger *logrus.Logger, backend mip.Backend) (domain.Solver, error) {
	switch name {
	case domain.AllSolutionsSolver:
		return NewAllSolutionsSolver(logger), nil
	case domain.ILPSolver:
		if backend == nil {
			backend = mip.NewBranchAndBound()
		}
		return NewILPSolver(logger, backend), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSolver, name)
	}
}
