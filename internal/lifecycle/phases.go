package lifecycle

import "sankeyhub/pkg/contracts/domain"

// CanProgressPhase reports whether a profile may move from one setup phase
// to another. Phases only advance one step at a time: SETUP to TEST, then
// TEST to PRODUCTION. Skips, backward moves and no-ops are all rejected.
func CanProgressPhase(from, to domain.SetupPhase) bool {
	switch from {
	case domain.PhaseSetup:
		return to == domain.PhaseTest
	case domain.PhaseTest:
		return to == domain.PhaseProduction
	}
	return false
}
