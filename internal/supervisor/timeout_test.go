package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierBudgets(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1000*time.Millisecond, TierLow.Budget())
	assert.Equal(t, 4100*time.Millisecond, TierMedium.Budget())
	assert.Equal(t, 8200*time.Millisecond, TierHigh.Budget())
	assert.Equal(t, 12400*time.Millisecond, TierMax.Budget())
	assert.Equal(t, 4100*time.Millisecond, TimeoutTier(99).Budget())
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"low", "medium", "high", "max"} {
		tier, err := ParseTier(name)
		require.NoError(t, err)
		assert.Equal(t, name, tier.String())
	}

	_, err := ParseTier("extreme")
	assert.Error(t, err)
}

func TestPauseReasonString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_paused", NotPaused.String())
	assert.Equal(t, "user_requested", PausedUserRequested.String())
	assert.Equal(t, "single_frame_analysis", PausedSingleFrameAnalysis.String())
}
