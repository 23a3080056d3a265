package supervisor

import (
	"fmt"
	"time"
)

// TimeoutTier selects the per-frame budget for pipeline calls. The tier is
// chosen externally (config or UI) and applies process-wide.
type TimeoutTier int32

const (
	TierLow TimeoutTier = iota
	TierMedium
	TierHigh
	TierMax
)

// Budget returns the steady-state per-call budget for the tier.
func (t TimeoutTier) Budget() time.Duration {
	switch t {
	case TierLow:
		return 1000 * time.Millisecond
	case TierMedium:
		return 4100 * time.Millisecond
	case TierHigh:
		return 8200 * time.Millisecond
	case TierMax:
		return 12400 * time.Millisecond
	default:
		return 4100 * time.Millisecond
	}
}

func (t TimeoutTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierMax:
		return "max"
	default:
		return "unknown"
	}
}

// ParseTier maps a config string to a tier.
func ParseTier(s string) (TimeoutTier, error) {
	switch s {
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	case "max":
		return TierMax, nil
	default:
		return TierMedium, fmt.Errorf("unknown timeout tier %q", s)
	}
}

// PauseReason records why the supervisor is paused. It resets to NotPaused on
// every resume.
type PauseReason int32

const (
	NotPaused PauseReason = iota
	PausedUserRequested
	PausedSingleFrameAnalysis
)

func (r PauseReason) String() string {
	switch r {
	case NotPaused:
		return "not_paused"
	case PausedUserRequested:
		return "user_requested"
	case PausedSingleFrameAnalysis:
		return "single_frame_analysis"
	default:
		return "unknown"
	}
}
