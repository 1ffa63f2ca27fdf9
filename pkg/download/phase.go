// Package download drives release acquisitions: a FIFO dedup queue, a
// resizable slot manager, deterministic candidate ranking over pluggable
// providers, and the orchestrator that walks each job through its phase
// state machine while broadcasting status.
package download

// Phase is one state of an acquisition's lifecycle.
type Phase int

const (
	PhaseQueued Phase = iota
	PhaseLookingUpMetadata
	PhaseSearchingProviders
	PhaseDownloading
	PhaseProcessing

	// Terminal phases.
	PhaseCompleted
	PhaseNotFound
	PhaseNoProviderResult
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseLookingUpMetadata:
		return "looking_up_metadata"
	case PhaseSearchingProviders:
		return "searching_providers"
	case PhaseDownloading:
		return "downloading"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleted:
		return "completed"
	case PhaseNotFound:
		return "not_found"
	case PhaseNoProviderResult:
		return "no_provider_result"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the job.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseNotFound, PhaseNoProviderResult, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// next is the forward progress edge of each non-terminal phase.
var next = map[Phase]Phase{
	PhaseQueued:             PhaseLookingUpMetadata,
	PhaseLookingUpMetadata:  PhaseSearchingProviders,
	PhaseSearchingProviders: PhaseDownloading,
	PhaseDownloading:        PhaseProcessing,
	PhaseProcessing:         PhaseCompleted,
}

// CanTransition reports whether p may move to target. Terminal phases
// never move; any non-terminal phase may exit to a failure phase or to
// Cancelled; otherwise only the single forward edge is allowed.
func (p Phase) CanTransition(target Phase) bool {
	if p.Terminal() {
		return false
	}
	switch target {
	case PhaseNotFound, PhaseNoProviderResult, PhaseFailed, PhaseCancelled:
		return true
	}
	return next[p] == target
}
