package contextbuild

import "brief-engine/internal/config"

// Category is one knowledge source family.
type Category string

const (
	CategorySolicitation    Category = "solicitation"
	CategoryKnowledgeBase   Category = "knowledge-base"
	CategoryPastPerformance Category = "past-performance"
	CategoryContentLibrary  Category = "content-library"
)

// Priority is the fixed order in which sections appear in the prompt.
var Priority = []Category{
	CategorySolicitation,
	CategoryKnowledgeBase,
	CategoryPastPerformance,
	CategoryContentLibrary,
}

// Budget is the character allocation per category plus a global cap.
type Budget struct {
	Solicitation    int
	KnowledgeBase   int
	PastPerformance int
	ContentLibrary  int
	Total           int
}

func (b Budget) For(c Category) int {
	switch c {
	case CategorySolicitation:
		return b.Solicitation
	case CategoryKnowledgeBase:
		return b.KnowledgeBase
	case CategoryPastPerformance:
		return b.PastPerformance
	case CategoryContentLibrary:
		return b.ContentLibrary
	}
	return 0
}

// Cap is the global ceiling; it defaults to the sum of the categories.
func (b Budget) Cap() int {
	if b.Total > 0 {
		return b.Total
	}
	return b.Solicitation + b.KnowledgeBase + b.PastPerformance + b.ContentLibrary
}

// Balanced is used for task types missing from the table.
var Balanced = Budget{
	Solicitation:    6000,
	KnowledgeBase:   6000,
	PastPerformance: 6000,
	ContentLibrary:  6000,
	Total:           24000,
}

// BudgetTable maps task types to budgets. Treat it as read-only once built.
type BudgetTable map[string]Budget

func (t BudgetTable) Resolve(taskType string) Budget {
	if b, ok := t[taskType]; ok {
		return b
	}
	return Balanced
}

// TaskAnswer is the task type for single-question answering; brief sections
// use "brief.<section>".
const TaskAnswer = "answer"

func BriefTask(section string) string { return "brief." + section }

// DefaultBudgets returns the built-in table. Values are tuned literals.
func DefaultBudgets() BudgetTable {
	return BudgetTable{
		TaskAnswer:                    {Solicitation: 8000, KnowledgeBase: 10000, PastPerformance: 3000, ContentLibrary: 3000, Total: 24000},
		BriefTask("summary"):          {Solicitation: 20000, KnowledgeBase: 2000, PastPerformance: 1000, ContentLibrary: 1000, Total: 24000},
		BriefTask("deadlines"):        {Solicitation: 22000, KnowledgeBase: 1000, PastPerformance: 0, ContentLibrary: 1000, Total: 24000},
		BriefTask("requirements"):     {Solicitation: 20000, KnowledgeBase: 3000, PastPerformance: 0, ContentLibrary: 1000, Total: 24000},
		BriefTask("contacts"):         {Solicitation: 22000, KnowledgeBase: 1000, PastPerformance: 0, ContentLibrary: 1000, Total: 24000},
		BriefTask("risks"):            {Solicitation: 14000, KnowledgeBase: 6000, PastPerformance: 2000, ContentLibrary: 2000, Total: 24000},
		BriefTask("past-performance"): {Solicitation: 6000, KnowledgeBase: 4000, PastPerformance: 12000, ContentLibrary: 2000, Total: 24000},
		BriefTask("scoring"):          {Solicitation: 10000, KnowledgeBase: 6000, PastPerformance: 6000, ContentLibrary: 2000, Total: 24000},
	}
}

// BudgetsFromConfig overlays configured budgets on the defaults.
func BudgetsFromConfig(cfg map[string]config.BudgetConfig) BudgetTable {
	table := DefaultBudgets()
	for task, b := range cfg {
		table[task] = Budget{
			Solicitation:    b.Solicitation,
			KnowledgeBase:   b.KnowledgeBase,
			PastPerformance: b.PastPerformance,
			ContentLibrary:  b.ContentLibrary,
			Total:           b.Total,
		}
	}
	return table
}
