// Package brief computes the seven sections of an opportunity brief, each
// exactly once per distinct input state.
package brief

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"brief-engine/internal/apperr"
	"brief-engine/internal/models"
)

type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

var allowedFrom = map[Event][]models.SectionStatus{
	EventStart:    {models.StatusIdle, models.StatusInProgress, models.StatusComplete, models.StatusFailed},
	EventComplete: {models.StatusInProgress, models.StatusComplete},
	EventFail:     {models.StatusInProgress, models.StatusFailed},
}

var eventTarget = map[Event]models.SectionStatus{
	EventStart:    models.StatusInProgress,
	EventComplete: models.StatusComplete,
	EventFail:     models.StatusFailed,
}

// AllowedFrom lists the statuses from which ev may fire. It is the
// precondition handed to the store's conditional update.
func AllowedFrom(ev Event) []models.SectionStatus {
	return append([]models.SectionStatus(nil), allowedFrom[ev]...)
}

// Transition returns the status after ev, or apperr.ErrConditionFailed when
// ev cannot fire from the current status.
func Transition(from models.SectionStatus, ev Event) (models.SectionStatus, error) {
	to, ok := eventTarget[ev]
	if !ok {
		return from, fmt.Errorf("unknown section event %q", ev)
	}
	for _, s := range allowedFrom[ev] {
		if s == from {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s section in status %s", apperr.ErrConditionFailed, ev, from)
}

// OverallStatus derives the brief status from its sections. A missing
// section counts as IDLE.
func OverallStatus(sections map[models.SectionName]models.BriefSection) models.SectionStatus {
	var complete, failed, running int
	for _, name := range models.AllSections {
		switch sections[name].Status {
		case models.StatusComplete:
			complete++
		case models.StatusFailed:
			failed++
		case models.StatusInProgress:
			running++
		}
	}
	switch {
	case complete == len(models.AllSections):
		return models.StatusComplete
	case failed > 0:
		return models.StatusFailed
	case running > 0:
		return models.StatusInProgress
	}
	return models.StatusIdle
}

// InputHash fingerprints the causal inputs of one section run. Source keys
// are compared as a set.
func InputHash(briefID string, section models.SectionName, opportunityID string, sourceKeys []string) (string, error) {
	keys := append([]string{}, sourceKeys...)
	sort.Strings(keys)
	raw, err := json.Marshal(map[string]any{
		"briefId":       briefID,
		"section":       section,
		"opportunityId": opportunityID,
		"sourceKeys":    keys,
	})
	if err != nil {
		return "", fmt.Errorf("marshal section inputs: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize section inputs: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func statusStrings(in []models.SectionStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
