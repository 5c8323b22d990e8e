package brief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brief-engine/internal/apperr"
	"brief-engine/internal/compress"
	"brief-engine/internal/docstore"
	"brief-engine/internal/models"
)

const (
	maxErrorRunes     = 500
	maxRollUpAttempts = 16
)

// Ref identifies a brief.
type Ref struct {
	ProjectID     string
	OpportunityID string
}

func (r Ref) Key() docstore.Key {
	return docstore.Key{PK: "PROJECT#" + r.ProjectID, SK: "BRIEF#" + r.OpportunityID}
}

func (r Ref) validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return apperr.Invalid("projectId", "is required")
	}
	if strings.TrimSpace(r.OpportunityID) == "" {
		return apperr.Invalid("opportunityId", "is required")
	}
	return nil
}

// RollUp carries the brief-level fields written by the scoring section. The
// overall status is derived by the store at write time.
type RollUp struct {
	CompositeScore float64
	Decision       models.Decision
	Confidence     float64
}

// Store persists briefs. Every section change is a single conditional
// update scoped to that section's attributes, so sections advance
// concurrently without overwriting each other.
type Store struct {
	Docs docstore.Store
	Now  func() time.Time
}

func NewStore(docs docstore.Store) *Store {
	return &Store{Docs: docs}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create makes a brief with every section IDLE. When the brief already
// exists only its source keys and org are replaced, which changes the input
// hash of every section.
func (s *Store) Create(ctx context.Context, ref Ref, orgID string, sourceKeys []string) (models.Brief, error) {
	if err := ref.validate(); err != nil {
		return models.Brief{}, err
	}
	if strings.TrimSpace(orgID) == "" {
		return models.Brief{}, apperr.Invalid("orgId", "is required")
	}
	if len(sourceKeys) == 0 {
		return models.Brief{}, apperr.Invalid("sourceDocumentKeys", "must not be empty")
	}
	now := s.now()
	b := models.Brief{
		ID:                 uuid.NewString(),
		ProjectID:          ref.ProjectID,
		OrgID:              orgID,
		OpportunityID:      ref.OpportunityID,
		SourceDocumentKeys: sourceKeys,
		Sections:           make(map[models.SectionName]models.BriefSection, len(models.AllSections)),
		Status:             models.StatusIdle,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, name := range models.AllSections {
		b.Sections[name] = models.BriefSection{Status: models.StatusIdle, UpdatedAt: now}
	}
	data, err := docstore.Encode(b)
	if err != nil {
		return models.Brief{}, err
	}
	err = s.Docs.Put(ctx, ref.Key(), data, docstore.IfNotExists())
	if err == nil {
		log.Info().Str("project", ref.ProjectID).Str("opportunity", ref.OpportunityID).Str("brief", b.ID).Msg("Brief created")
		return b, nil
	}
	if !errors.Is(err, apperr.ErrConditionFailed) {
		return models.Brief{}, fmt.Errorf("create brief: %w", err)
	}

	err = s.Docs.Update(ctx, ref.Key(), []docstore.Set{
		{Path: docstore.P("orgId"), Value: orgID},
		{Path: docstore.P("sourceDocumentKeys"), Value: sourceKeys},
		{Path: docstore.P("updatedAt"), Value: now},
	}, docstore.Exists("id"))
	if err != nil {
		return models.Brief{}, fmt.Errorf("update brief sources: %w", err)
	}
	return s.Get(ctx, ref)
}

// Get returns the brief with Status derived from its sections.
func (s *Store) Get(ctx context.Context, ref Ref) (models.Brief, error) {
	if err := ref.validate(); err != nil {
		return models.Brief{}, err
	}
	rec, err := s.Docs.Get(ctx, ref.Key())
	if err != nil {
		return models.Brief{}, s.classify(ctx, ref, "", "", err)
	}
	var b models.Brief
	if err := docstore.Decode(rec.Data, &b); err != nil {
		return models.Brief{}, err
	}
	if b.Sections == nil {
		b.Sections = map[models.SectionName]models.BriefSection{}
	}
	b.Status = OverallStatus(b.Sections)
	return b, nil
}

// MarkInProgress back-fills the section as IDLE when it is missing, then
// moves it to IN_PROGRESS with the given input hash.
func (s *Store) MarkInProgress(ctx context.Context, ref Ref, section models.SectionName, inputHash string) error {
	if err := s.ensureSection(ctx, ref, section); err != nil {
		return err
	}
	now := s.now()
	err := s.Docs.Update(ctx, ref.Key(), []docstore.Set{
		{Path: sectionPath(section, "status"), Value: models.StatusInProgress},
		{Path: sectionPath(section, "inputHash"), Value: inputHash},
		{Path: sectionPath(section, "updatedAt"), Value: now},
		{Path: docstore.P("updatedAt"), Value: now},
	}, s.precondition(section, EventStart))
	return s.classify(ctx, ref, section, "", err)
}

// MarkComplete stores data, clears any previous error and, when rollUp is
// set, writes the brief-level fields in the same update. The write only
// applies while the section still carries inputHash; a run superseded by a
// newer one gets apperr.ErrSuperseded. Completing again with the same hash
// and data leaves the record untouched.
func (s *Store) MarkComplete(ctx context.Context, ref Ref, section models.SectionName, inputHash string, data json.RawMessage, rollUp *RollUp) error {
	if err := checkSection(ref, section); err != nil {
		return err
	}
	if len(data) == 0 || !json.Valid(data) {
		return apperr.Invalid("data", "must be valid JSON")
	}

	for attempt := 0; attempt < maxRollUpAttempts; attempt++ {
		rec, err := s.Docs.Get(ctx, ref.Key())
		if err != nil {
			return s.classify(ctx, ref, section, inputHash, err)
		}
		if alreadyComplete(rec.Data, section, inputHash, data, rollUp) {
			return nil
		}

		now := s.now()
		sets := []docstore.Set{
			{Path: sectionPath(section, "status"), Value: models.StatusComplete},
			{Path: sectionPath(section, "data"), Value: data},
			{Path: sectionPath(section, "error"), Value: nil},
			{Path: sectionPath(section, "updatedAt"), Value: now},
			{Path: docstore.P("updatedAt"), Value: now},
		}
		conds := s.ownership(section, inputHash, EventComplete)
		if rollUp != nil {
			status, siblings := rollUpStatus(rec.Data, section)
			sets = append(sets,
				docstore.Set{Path: docstore.P("compositeScore"), Value: rollUp.CompositeScore},
				docstore.Set{Path: docstore.P("decision"), Value: rollUp.Decision},
				docstore.Set{Path: docstore.P("confidence"), Value: rollUp.Confidence},
				docstore.Set{Path: docstore.P("status"), Value: status},
			)
			conds = append(conds, siblings...)
		}

		err = s.Docs.Update(ctx, ref.Key(), sets, conds...)
		if err == nil {
			return nil
		}
		if rollUp == nil || !errors.Is(err, apperr.ErrConditionFailed) || !s.ownsSection(ctx, ref, section, inputHash) {
			return s.classify(ctx, ref, section, inputHash, err)
		}
		// A sibling section moved between the read and the write.
		log.Debug().Str("opportunity", ref.OpportunityID).Int("attempt", attempt+1).Msg("Retrying roll-up write")
	}
	return apperr.Wrap(fmt.Errorf("section %s: %w: roll-up contended", section, apperr.ErrConditionFailed), apperr.CategoryConditionFailed, "contended")
}

// MarkFailed records a normalized error message. Data from an earlier
// successful run is kept. Like MarkComplete it applies only while the
// section still carries inputHash.
func (s *Store) MarkFailed(ctx context.Context, ref Ref, section models.SectionName, inputHash string, cause error) error {
	if err := checkSection(ref, section); err != nil {
		return err
	}
	now := s.now()
	msg := NormalizeError(cause)
	err := s.Docs.Update(ctx, ref.Key(), []docstore.Set{
		{Path: sectionPath(section, "status"), Value: models.StatusFailed},
		{Path: sectionPath(section, "error"), Value: msg},
		{Path: sectionPath(section, "updatedAt"), Value: now},
		{Path: docstore.P("updatedAt"), Value: now},
	}, s.ownership(section, inputHash, EventFail)...)
	return s.classify(ctx, ref, section, inputHash, err)
}

func checkSection(ref Ref, section models.SectionName) error {
	if err := ref.validate(); err != nil {
		return err
	}
	if !section.Valid() {
		return apperr.Invalid("section", fmt.Sprintf("%q is unknown", section))
	}
	return nil
}

func (s *Store) ensureSection(ctx context.Context, ref Ref, section models.SectionName) error {
	if err := checkSection(ref, section); err != nil {
		return err
	}
	err := s.Docs.Update(ctx, ref.Key(), []docstore.Set{
		{Path: docstore.P("sections", string(section)), Value: models.BriefSection{Status: models.StatusIdle, UpdatedAt: s.now()}},
	}, docstore.Exists("id"), docstore.NotExists("sections", string(section)))
	switch {
	case err == nil:
		log.Debug().Str("opportunity", ref.OpportunityID).Str("section", string(section)).Msg("Back-filled missing section")
		return nil
	case errors.Is(err, apperr.ErrConditionFailed):
		// Section already present.
		return nil
	}
	return s.classify(ctx, ref, section, "", err)
}

func (s *Store) precondition(section models.SectionName, ev Event) docstore.Condition {
	return docstore.In(sectionPath(section, "status"), statusStrings(AllowedFrom(ev))...)
}

// ownership is the precondition of a run finishing: the transition must be
// legal and the section must still carry the run's input hash.
func (s *Store) ownership(section models.SectionName, inputHash string, ev Event) []docstore.Condition {
	return []docstore.Condition{
		s.precondition(section, ev),
		docstore.In(sectionPath(section, "inputHash"), inputHash),
	}
}

func (s *Store) ownsSection(ctx context.Context, ref Ref, section models.SectionName, inputHash string) bool {
	rec, err := s.Docs.Get(ctx, ref.Key())
	if err != nil {
		return false
	}
	sec, ok := sectionRecord(rec.Data, section)
	if !ok || sec["inputHash"] != inputHash {
		return false
	}
	status, _ := sec["status"].(string)
	for _, allowed := range AllowedFrom(EventComplete) {
		if status == string(allowed) {
			return true
		}
	}
	return false
}

// classify maps store errors onto brief errors. A failed precondition on a
// section that does not exist becomes ErrSectionNotFound, and one on a
// section now holding a different input hash becomes ErrSuperseded.
func (s *Store) classify(ctx context.Context, ref Ref, section models.SectionName, inputHash string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		return apperr.Wrap(fmt.Errorf("%w: %s/%s", apperr.ErrBriefNotFound, ref.ProjectID, ref.OpportunityID), apperr.CategoryNotFound, "brief_not_found")
	case errors.Is(err, apperr.ErrConditionFailed) && section != "":
		rec, getErr := s.Docs.Get(ctx, ref.Key())
		if getErr == nil {
			sec, ok := sectionRecord(rec.Data, section)
			if !ok {
				return apperr.Wrap(fmt.Errorf("%w: %s", apperr.ErrSectionNotFound, section), apperr.CategoryNotFound, "section_not_found")
			}
			stored, _ := sec["inputHash"].(string)
			if inputHash != "" && stored != "" && stored != inputHash {
				return apperr.Wrap(fmt.Errorf("section %s: %w: %w", section, apperr.ErrSuperseded, err), apperr.CategoryConditionFailed, "superseded")
			}
		}
		return apperr.Wrap(fmt.Errorf("section %s: %w", section, err), apperr.CategoryConditionFailed, "section_transition")
	}
	return err
}

// alreadyComplete reports whether the section is COMPLETE for inputHash with
// the same data and, for the scoring section, the same roll-up.
func alreadyComplete(data map[string]any, section models.SectionName, inputHash string, payload json.RawMessage, rollUp *RollUp) bool {
	sec, ok := sectionRecord(data, section)
	if !ok || sec["status"] != string(models.StatusComplete) || sec["inputHash"] != inputHash {
		return false
	}
	if !sameJSON(sec["data"], payload) {
		return false
	}
	if rollUp == nil {
		return true
	}
	status, _ := rollUpStatus(data, section)
	return sameJSON(data["compositeScore"], rollUp.CompositeScore) &&
		sameJSON(data["decision"], rollUp.Decision) &&
		sameJSON(data["confidence"], rollUp.Confidence) &&
		data["status"] == string(status)
}

// rollUpStatus derives the overall status as it will be once section is
// COMPLETE, and the conditions pinning every sibling to the status it was
// derived from.
func rollUpStatus(data map[string]any, section models.SectionName) (models.SectionStatus, []docstore.Condition) {
	sections := make(map[models.SectionName]models.BriefSection, len(models.AllSections))
	var conds []docstore.Condition
	for _, name := range models.AllSections {
		if name == section {
			sections[name] = models.BriefSection{Status: models.StatusComplete}
			continue
		}
		sec, ok := sectionRecord(data, name)
		if !ok {
			conds = append(conds, docstore.NotExists("sections", string(name)))
			continue
		}
		status, _ := sec["status"].(string)
		sections[name] = models.BriefSection{Status: models.SectionStatus(status)}
		conds = append(conds, docstore.In(sectionPath(name, "status"), status))
	}
	return OverallStatus(sections), conds
}

func sameJSON(stored any, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var want any
	if err := json.Unmarshal(b, &want); err != nil {
		return false
	}
	return reflect.DeepEqual(stored, want)
}

func sectionRecord(data map[string]any, section models.SectionName) (map[string]any, bool) {
	v, ok := lookupSection(data, section)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func lookupSection(data map[string]any, section models.SectionName) (any, bool) {
	sections, ok := data["sections"].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := sections[string(section)]
	return v, ok && v != nil
}

func sectionPath(section models.SectionName, attr string) docstore.Path {
	return docstore.P("sections", string(section), attr)
}

// NormalizeError flattens err into a single bounded line.
func NormalizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.Join(strings.FieldsFunc(err.Error(), unicode.IsSpace), " ")
	if msg == "" {
		return "unknown error"
	}
	return compress.Truncate(msg, maxErrorRunes)
}
