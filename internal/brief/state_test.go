package brief

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brief-engine/internal/apperr"
	"brief-engine/internal/models"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from models.SectionStatus
		ev   Event
		want models.SectionStatus
		ok   bool
	}{
		{models.StatusIdle, EventStart, models.StatusInProgress, true},
		{models.StatusComplete, EventStart, models.StatusInProgress, true},
		{models.StatusFailed, EventStart, models.StatusInProgress, true},
		{models.StatusInProgress, EventStart, models.StatusInProgress, true},
		{models.StatusInProgress, EventComplete, models.StatusComplete, true},
		{models.StatusComplete, EventComplete, models.StatusComplete, true},
		{models.StatusIdle, EventComplete, models.StatusIdle, false},
		{models.StatusFailed, EventComplete, models.StatusFailed, false},
		{models.StatusInProgress, EventFail, models.StatusFailed, true},
		{models.StatusFailed, EventFail, models.StatusFailed, true},
		{models.StatusComplete, EventFail, models.StatusComplete, false},
		{models.StatusIdle, EventFail, models.StatusIdle, false},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.ev)
		assert.Equal(t, tt.want, got, "%s on %s", tt.ev, tt.from)
		if tt.ok {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, apperr.ErrConditionFailed)
		}
	}

	_, err := Transition(models.StatusIdle, Event("pause"))
	assert.Error(t, err)
}

func TestAllowedFromIsACopy(t *testing.T) {
	got := AllowedFrom(EventComplete)
	got[0] = models.StatusIdle
	assert.Equal(t, []models.SectionStatus{models.StatusInProgress, models.StatusComplete}, AllowedFrom(EventComplete))
}

func sections(statuses ...models.SectionStatus) map[models.SectionName]models.BriefSection {
	out := map[models.SectionName]models.BriefSection{}
	for i, s := range statuses {
		out[models.AllSections[i]] = models.BriefSection{Status: s}
	}
	return out
}

func TestOverallStatus(t *testing.T) {
	c, f, p, i := models.StatusComplete, models.StatusFailed, models.StatusInProgress, models.StatusIdle
	assert.Equal(t, c, OverallStatus(sections(c, c, c, c, c, c, c)))
	assert.Equal(t, f, OverallStatus(sections(c, c, p, c, f, c, c)))
	assert.Equal(t, p, OverallStatus(sections(c, c, p, c, c, c, c)))
	assert.Equal(t, i, OverallStatus(sections(c, c, c, c, c, c, i)))
	assert.Equal(t, i, OverallStatus(sections(c, c, c)), "missing sections count as idle")
	assert.Equal(t, i, OverallStatus(nil))
}

func TestInputHash(t *testing.T) {
	h1, err := InputHash("b1", models.SectionSummary, "opp-1", []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	h2, err := InputHash("b1", models.SectionSummary, "opp-1", []string{"b.txt", "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := InputHash("b1", models.SectionRisks, "opp-1", []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	h4, err := InputHash("b1", models.SectionSummary, "opp-1", []string{"a.txt", "c.txt"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestNormalizeError(t *testing.T) {
	assert.Equal(t, "unknown error", NormalizeError(nil))
	assert.Equal(t, "model output: unbalanced json", NormalizeError(&apperr.ModelOutputError{Reason: "unbalanced json"}))
	assert.Equal(t, "a b c", NormalizeError(errString("a\n\tb   c ")))
}

type errString string

func (e errString) Error() string { return string(e) }
