package tracker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	t.Parallel()

	t.Run("one new and one cleared across a streak", func(t *testing.T) {
		t.Parallel()
		trk := New()

		var newCount, stillCount, clearCount int
		trk.OnNewException(func(string, Record) { newCount++ })
		trk.OnStillErroring(func(string, Record) { stillCount++ })
		trk.OnCleared(func(string) { clearCount++ })

		// success, success, failure, failure, success
		trk.ClearFor("p")
		trk.ClearFor("p")
		trk.Report("p", errors.New("frame failed"))
		trk.Report("p", errors.New("frame failed again"))
		trk.ClearFor("p")

		assert.Equal(t, 1, newCount)
		assert.Equal(t, 1, stillCount)
		assert.Equal(t, 1, clearCount)
	})

	t.Run("clear without an active error fires nothing", func(t *testing.T) {
		t.Parallel()
		trk := New()

		cleared := 0
		trk.OnCleared(func(string) { cleared++ })
		trk.ClearFor("p")
		assert.Equal(t, 0, cleared)
	})

	t.Run("definitions are tracked independently", func(t *testing.T) {
		t.Parallel()
		trk := New()

		trk.Report("a", errors.New("a failed"))
		trk.Report("b", errors.New("b failed"))
		trk.ClearFor("a")

		_, aActive := trk.ActiveError("a")
		rec, bActive := trk.ActiveError("b")
		assert.False(t, aActive)
		require.True(t, bActive)
		assert.Equal(t, "b failed", rec.LastMessage)
	})
}

func TestRecordAccounting(t *testing.T) {
	t.Parallel()

	t.Run("count and timestamps follow the streak", func(t *testing.T) {
		t.Parallel()
		trk := New()

		trk.Report("p", errors.New("first"))
		trk.Report("p", errors.New("second"))
		trk.Report("p", errors.New("third"))

		rec, ok := trk.ActiveError("p")
		require.True(t, ok)
		assert.Equal(t, 3, rec.Count)
		assert.Equal(t, "third", rec.LastMessage)
		assert.False(t, rec.FirstAt.After(rec.LastAt))
	})

	t.Run("nil error is ignored", func(t *testing.T) {
		t.Parallel()
		trk := New()
		trk.Report("p", nil)
		_, ok := trk.ActiveError("p")
		assert.False(t, ok)
	})

	t.Run("long messages are truncated", func(t *testing.T) {
		t.Parallel()
		trk := New()
		trk.ReportMessage("p", strings.Repeat("x", 5000), nil)

		rec, ok := trk.ActiveError("p")
		require.True(t, ok)
		assert.LessOrEqual(t, len(rec.LastMessage), maxMessageLen+len("…"))
	})

	t.Run("truncation lands on a rune boundary", func(t *testing.T) {
		t.Parallel()
		trk := New()
		// Three-byte runes do not divide 400 evenly, so a byte-offset cut
		// would split one.
		trk.ReportMessage("p", strings.Repeat("世", 2000), nil)

		rec, ok := trk.ActiveError("p")
		require.True(t, ok)
		assert.True(t, utf8.ValidString(rec.LastMessage))
		assert.True(t, strings.HasSuffix(rec.LastMessage, "…"))
		assert.LessOrEqual(t, len(rec.LastMessage), maxMessageLen+len("…"))
	})

	t.Run("snapshot copies all records", func(t *testing.T) {
		t.Parallel()
		trk := New()
		trk.Report("a", errors.New("a failed"))
		trk.Report("b", errors.New("b failed"))

		snap := trk.Snapshot()
		require.Len(t, snap, 2)
		assert.Equal(t, "a failed", snap["a"].LastMessage)

		// Mutating the snapshot does not touch the tracker.
		entry := snap["a"]
		entry.LastMessage = "edited"
		snap["a"] = entry
		rec, _ := trk.ActiveError("a")
		assert.Equal(t, "a failed", rec.LastMessage)
	})
}
