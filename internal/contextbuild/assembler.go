// Package contextbuild assembles one bounded prompt context from several
// knowledge sources, each under its own character budget.
package contextbuild

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"brief-engine/internal/compress"
	"brief-engine/internal/models"
)

// Query carries everything a loader may need. Vector is the embedded Text.
type Query struct {
	Text         string
	Vector       []float32
	OrgID        string
	DocumentKeys []string
	DocumentIDs  []string
}

// Block is what one loader contributes.
type Block struct {
	Text   string
	Chunks []models.CompressedChunk
}

// Loader reads one category and keeps its output within budget characters.
type Loader interface {
	Category() Category
	Load(ctx context.Context, q Query, budget int) (Block, error)
}

type Section struct {
	Category Category
	Title    string
	Hint     string
	Text     string
	Chunks   []models.CompressedChunk
}

type AssembledContext struct {
	TaskType string
	Budget   Budget
	Text     string
	Sections []Section
	// Failed lists categories whose loader errored or timed out.
	Failed []Category
}

// PassageCount is the number of chunks that survived filtering.
func (a AssembledContext) PassageCount() int {
	n := 0
	for _, s := range a.Sections {
		n += len(s.Chunks)
	}
	return n
}

// RetrievedCount is the number of chunks that cleared a similarity
// threshold. Solicitation text is loaded whole and is not counted.
func (a AssembledContext) RetrievedCount() int {
	return len(a.Scores())
}

// Scores returns the similarity scores of retrieved chunks. Solicitation
// documents are read directly, not retrieved, so they carry no score.
func (a AssembledContext) Scores() []float64 {
	var out []float64
	for _, s := range a.Sections {
		if s.Category == CategorySolicitation {
			continue
		}
		for _, c := range s.Chunks {
			out = append(out, c.Score)
		}
	}
	return out
}

// Chunks returns every chunk in prompt order.
func (a AssembledContext) Chunks() []models.CompressedChunk {
	var out []models.CompressedChunk
	for _, s := range a.Sections {
		out = append(out, s.Chunks...)
	}
	return out
}

func (a AssembledContext) Section(c Category) (Section, bool) {
	for _, s := range a.Sections {
		if s.Category == c {
			return s, true
		}
	}
	return Section{}, false
}

var sectionMeta = map[Category]struct{ title, hint string }{
	CategorySolicitation: {
		"Solicitation Documents",
		"Primary source. Requirements, dates and instructions stated here take precedence.",
	},
	CategoryKnowledgeBase: {
		"Knowledge Base",
		"Company capabilities and policies. Cite when describing how a requirement is met.",
	},
	CategoryPastPerformance: {
		"Past Performance",
		"Prior contracts. Use as evidence of relevant experience.",
	},
	CategoryContentLibrary: {
		"Approved Content Library",
		"Previously approved answers. Reuse wording where it fits.",
	},
}

type Assembler struct {
	loaders []Loader
	budgets BudgetTable
}

func NewAssembler(budgets BudgetTable, loaders ...Loader) *Assembler {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Assembler{loaders: loaders, budgets: budgets}
}

// Assemble runs every loader concurrently with its allotted budget and joins
// the non-empty results in priority order. A failed loader contributes
// nothing. The returned Text never exceeds the budget's global cap. The only
// error is the caller's context being done before any loader ran.
func (a *Assembler) Assemble(ctx context.Context, taskType string, q Query) (AssembledContext, error) {
	if err := ctx.Err(); err != nil {
		return AssembledContext{}, fmt.Errorf("assemble %s: %w", taskType, err)
	}
	budget := a.budgets.Resolve(taskType)
	start := time.Now()

	blocks := make([]Block, len(a.loaders))
	failed := make([]bool, len(a.loaders))

	var g errgroup.Group
	for i, l := range a.loaders {
		alloc := budget.For(l.Category())
		if alloc <= 0 {
			continue
		}
		g.Go(func() error {
			block, err := l.Load(ctx, q, alloc)
			if err != nil {
				failed[i] = true
				log.Warn().Err(err).Str("task", taskType).Str("source", string(l.Category())).
					Msg("Context source failed, continuing without it")
				return nil
			}
			blocks[i] = block
			return nil
		})
	}
	_ = g.Wait()

	out := AssembledContext{TaskType: taskType, Budget: budget}
	for _, cat := range Priority {
		for i, l := range a.loaders {
			if l.Category() != cat {
				continue
			}
			if failed[i] {
				out.Failed = append(out.Failed, cat)
				continue
			}
			if strings.TrimSpace(blocks[i].Text) == "" {
				continue
			}
			meta := sectionMeta[cat]
			out.Sections = append(out.Sections, Section{
				Category: cat,
				Title:    meta.title,
				Hint:     meta.hint,
				Text:     blocks[i].Text,
				Chunks:   blocks[i].Chunks,
			})
		}
	}

	var b strings.Builder
	for i, s := range out.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Title)
		b.WriteString(" [")
		b.WriteString(string(s.Category))
		b.WriteString("]\n(")
		b.WriteString(s.Hint)
		b.WriteString(")\n\n")
		b.WriteString(s.Text)
	}
	out.Text = compress.Truncate(b.String(), budget.Cap())

	log.Debug().Str("task", taskType).Int("sections", len(out.Sections)).Int("passages", out.PassageCount()).
		Int("chars", len(out.Text)).Dur("took", time.Since(start)).Msg("Context assembled")
	return out, nil
}
