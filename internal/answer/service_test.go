package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"brief-engine/internal/apperr"
	"brief-engine/internal/blobstore"
	"brief-engine/internal/contextbuild"
	"brief-engine/internal/docstore"
	"brief-engine/internal/library"
	"brief-engine/internal/llmservice"
	"brief-engine/internal/models"
	"brief-engine/internal/vectordb"
)

func TestMain(m *testing.M) {
	// The genai client pulls in opencensus, which starts a stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type mapEmbedder map[string][]float32

func (e mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := e[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type brokenLoader struct{}

func (brokenLoader) Category() contextbuild.Category { return contextbuild.CategoryPastPerformance }

func (brokenLoader) Load(context.Context, contextbuild.Query, int) (contextbuild.Block, error) {
	return contextbuild.Block{}, errors.New("past performance index offline")
}

type harness struct {
	svc     *Service
	docs    *docstore.MemoryStore
	llm     *llmservice.FakeInvoker
	lib     *library.Library
	matcher *library.Matcher
}

const clearanceQ = "Do you hold a facility clearance?"

func newHarness(t *testing.T, extra ...contextbuild.Loader) *harness {
	t.Helper()
	ctx := context.Background()
	vectors, err := vectordb.NewStore("", true, false, "")
	require.NoError(t, err)
	require.NoError(t, vectors.Add(ctx, "org-1", []vectordb.Document{{
		ID:        "kb-1",
		Content:   "The company holds an active Top Secret facility clearance.",
		Embedding: []float32{1, 0, 0},
		Metadata: map[string]string{
			vectordb.MetaType:       contextbuild.TypeKnowledgeBase,
			vectordb.MetaDocumentID: "doc-kb",
			vectordb.MetaFileName:   "security.pdf",
			vectordb.MetaTimestamp:  fixedNow.AddDate(0, -2, 0).Format(time.RFC3339),
		},
	}}))

	docs := docstore.NewMemoryStore()
	llm := llmservice.NewFakeInvoker()
	model := llmservice.Model{Invoker: llm, ID: "test-model"}
	emb := mapEmbedder{clearanceQ: {1, 0, 0}}
	repo := &Repository{Docs: docs, Now: func() time.Time { return fixedNow }}

	loaders := append([]contextbuild.Loader{
		&contextbuild.VectorLoader{
			Cat: contextbuild.CategoryKnowledgeBase, Searcher: vectors, TypeFilter: contextbuild.TypeKnowledgeBase,
			MinScore: 0.35, TopK: 8, MinChunkChars: 100,
		},
	}, extra...)

	matcher := &library.Matcher{
		Searcher: vectors, Docs: docs, Model: model, Answers: repo,
		TopN: 10, MinScore: 0.7, FallbackScore: 0.85, ListingChars: 600,
		Now: func() time.Time { return fixedNow },
	}
	t.Cleanup(matcher.Wait)

	return &harness{
		svc: &Service{
			Embedder:  emb,
			Library:   matcher,
			Assembler: contextbuild.NewAssembler(nil, loaders...),
			Model:     model,
			Repo:      repo,
			Now:       func() time.Time { return fixedNow },
		},
		docs:    docs,
		llm:     llm,
		matcher: matcher,
		lib:     &library.Library{Docs: docs, Index: vectors, Embedder: emb, Now: func() time.Time { return fixedNow }},
	}
}

func request(q string) Request {
	return Request{ProjectID: "p1", OrgID: "org-1", QuestionID: "q1", Question: q}
}

const goodResponse = `Here you go:
{"answer": "Yes, the company holds an active Top Secret facility clearance.", "confidence": 0.9, "found": true,
 "citations": [{"source": "knowledge-base", "index": 1}, {"source": "knowledge-base", "index": 1}, {"source": "nowhere", "index": 3}]}`

func TestAnswerGeneratesAndPersists(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(llmservice.Prompt) (string, error) { return goodResponse, nil }

	ans, err := h.svc.Answer(context.Background(), request(clearanceQ))
	require.NoError(t, err)

	assert.NotEmpty(t, ans.ID)
	assert.False(t, ans.FromLibrary)
	assert.Equal(t, "Yes, the company holds an active Top Secret facility clearance.", ans.Text)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "knowledge-base#1", ans.Sources[0].ID)
	assert.Equal(t, "security.pdf", ans.Sources[0].FileName)
	assert.Equal(t, models.BandHigh, ans.ConfidenceBand)
	assert.InDelta(t, ans.ConfidenceBreakdown.Composite/100, ans.Confidence, 1e-9)

	calls := h.llm.Calls()
	require.Len(t, calls, 1, "library has no entries so only the answer prompt runs")
	assert.Contains(t, calls[0].User, "## Knowledge Base [knowledge-base]")
	assert.True(t, calls[0].JSON)

	stored, err := h.svc.Repo.Get(context.Background(), "p1", "q1")
	require.NoError(t, err)
	assert.Equal(t, ans.ID, stored.ID)
}

func TestAnswerUpdatePreservesIdentity(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(llmservice.Prompt) (string, error) { return goodResponse, nil }
	first, err := h.svc.Answer(context.Background(), request(clearanceQ))
	require.NoError(t, err)

	h.llm.Respond = func(llmservice.Prompt) (string, error) {
		return `{"answer": "Yes, Top Secret.", "found": true, "citations": []}`, nil
	}
	second, err := h.svc.Answer(context.Background(), request(clearanceQ))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.Equal(t, "Yes, Top Secret.", second.Text)
	assert.Empty(t, second.Sources)

	all, err := h.svc.Repo.List(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAnswerNoContext(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Answer(context.Background(), request("What colour is the sky?"))

	assert.ErrorIs(t, err, apperr.ErrNoContext)
	assert.Equal(t, apperr.CategoryNoContext, apperr.CategoryOf(err))
	assert.Empty(t, h.llm.Calls())
	_, err = h.svc.Repo.Get(context.Background(), "p1", "q1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func solicitationLoader(t *testing.T) contextbuild.Loader {
	t.Helper()
	blobs := blobstore.NewMemoryStore()
	require.NoError(t, blobs.PutText(context.Background(), "docs", "solicitation/rfp.txt",
		"Proposals are due on 15 July 2026. The contractor shall provide monthly status reports.", "text/plain"))
	return &contextbuild.DocumentLoader{Blobs: blobs, Bucket: "docs", MinChunkChars: 100}
}

func TestAnswerSolicitationAloneIsNoContext(t *testing.T) {
	h := newHarness(t, solicitationLoader(t))
	req := request("What colour is the sky?")
	req.DocumentKeys = []string{"solicitation/rfp.txt"}

	_, err := h.svc.Answer(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrNoContext)
	assert.Empty(t, h.llm.Calls())
}

func TestAnswerIncludesSolicitationWithRetrievedContext(t *testing.T) {
	h := newHarness(t, solicitationLoader(t))
	h.llm.Respond = func(llmservice.Prompt) (string, error) { return goodResponse, nil }
	req := request(clearanceQ)
	req.DocumentKeys = []string{"solicitation/rfp.txt"}

	_, err := h.svc.Answer(context.Background(), req)
	require.NoError(t, err)
	calls := h.llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "Proposals are due on 15 July 2026.")
	assert.Contains(t, calls[0].User, "## Knowledge Base [knowledge-base]")
}

func TestAnswerSurvivesFailedSource(t *testing.T) {
	h := newHarness(t, brokenLoader{})
	h.llm.Respond = func(llmservice.Prompt) (string, error) { return goodResponse, nil }

	ans, err := h.svc.Answer(context.Background(), request(clearanceQ))
	require.NoError(t, err)
	assert.Len(t, ans.Sources, 1)
	assert.NotContains(t, h.llm.Calls()[0].User, "Past Performance")
}

func TestAnswerLibraryShortCircuit(t *testing.T) {
	h := newHarness(t)
	_, err := h.lib.Add(context.Background(), models.LibraryItem{
		OrgID: "org-1", Question: clearanceQ, Answer: "Approved: we hold a Top Secret facility clearance.",
	})
	require.NoError(t, err)
	h.llm.Respond = func(p llmservice.Prompt) (string, error) {
		if strings.Contains(p.System, "pre-approved") {
			return `{"match": true, "index": 1}`, nil
		}
		return "", errors.New("generation must not run")
	}

	ans, err := h.svc.Answer(context.Background(), request(clearanceQ))
	require.NoError(t, err)
	h.matcher.Wait()

	assert.True(t, ans.FromLibrary)
	assert.Equal(t, "Approved: we hold a Top Secret facility clearance.", ans.Text)
	assert.Len(t, h.llm.Calls(), 1)

	stored, err := h.svc.Repo.Get(context.Background(), "p1", "q1")
	require.NoError(t, err)
	assert.True(t, stored.FromLibrary)
}

func TestAnswerModelOutputError(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(llmservice.Prompt) (string, error) {
		return `{"answer": "Yes, the company holds`, nil
	}
	_, err := h.svc.Answer(context.Background(), request(clearanceQ))

	var modelErr *apperr.ModelOutputError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, "unbalanced json", modelErr.Reason)
	_, err = h.svc.Repo.Get(context.Background(), "p1", "q1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAnswerValidatesInput(t *testing.T) {
	h := newHarness(t)
	req := request("  ")
	_, err := h.svc.Answer(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, "invalid_question", apperr.CodeOf(err))
}

func TestRepositoryUpsertRequiresKeys(t *testing.T) {
	repo := NewRepository(docstore.NewMemoryStore())
	_, err := repo.Upsert(context.Background(), models.Answer{QuestionID: "q"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
