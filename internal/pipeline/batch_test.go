package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/pipeline"
	"github.com/rcliao/ryos-memory/internal/store"
)

func TestSanitizeKey(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "spaces and punctuation", raw: "Favorite Food!", want: "favorite_food"},
		{name: "leading digit rejected", raw: "123bad", want: ""},
		{name: "empty", raw: "   ", want: ""},
		{name: "only symbols", raw: "!!!", want: ""},
		{name: "hyphen", raw: "music-preferences", want: "music_preferences"},
		{name: "leading underscore rejected", raw: "_pets", want: ""},
		{name: "canonical untouched", raw: "work_projects", want: "work_projects"},
		{name: "non-ascii dropped", raw: "café_visits", want: "caf_visits"},
		{
			name: "truncated to 30",
			raw:  "a_very_long_memory_key_that_keeps_going",
			want: "a_very_long_memory_key_that_ke",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := pipeline.SanitizeKey(tc.raw)
			gt.Equal(t, got, tc.want)
			gt.True(t, len(got) <= model.MaxKeyLen)
		})
	}

	// Truncation is deterministic.
	long := strings.Repeat("k", 45)
	gt.Equal(t, pipeline.SanitizeKey(long), pipeline.SanitizeKey(long))
	gt.Equal(t, len(pipeline.SanitizeKey(long)), model.MaxKeyLen)
}

func TestBatchCapacityGuard(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(
		model.MemoryDetail{Key: "name", Summary: "Alice", Content: "Name is Alice"},
		model.MemoryDetail{Key: "pets", Summary: "Has a cat", Content: "Has a cat"},
	)
	h.extractor.fn = returns(
		model.Candidate{Key: "hobbies", Summary: "Climbs", Content: "Goes climbing"},
		model.Candidate{Key: "Pets", Summary: "Has a cat and a dog", Content: "Got a dog too"},
	)

	cfg := pipeline.DefaultConfig()
	cfg.MaxMemoriesPerUser = 2

	result, err := h.processor(pipeline.WithConfig(cfg)).Process(context.Background(), "alice", "")
	gt.NoError(t, err)

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(1)
	gt.Equal(t, upserts[0].Key, "pets")
	gt.Equal(t, upserts[0].Mode, model.UpsertUpdate)
	gt.Equal(t, result.Created, 0)
	gt.Equal(t, result.Updated, 1)
	gt.Equal(t, result.Extracted, 2)

	// At capacity the prompt asks for the smaller at-capacity cap.
	req := h.extractor.requests[0]
	gt.True(t, req.AtCapacity)
	gt.Equal(t, req.Limit, cfg.AtCapacityExtractionCap)
}

func TestBatchExtractionLimitUsesRemainingSlots(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(
		model.MemoryDetail{Key: "a", Summary: "a"},
		model.MemoryDetail{Key: "b", Summary: "b"},
		model.MemoryDetail{Key: "c", Summary: "c"},
	)

	cfg := pipeline.DefaultConfig()
	cfg.MaxMemoriesPerUser = 5

	_, err := h.processor(pipeline.WithConfig(cfg)).Process(context.Background(), "alice", "")
	gt.NoError(t, err)

	req := h.extractor.requests[0]
	gt.Equal(t, req.Limit, 2)
	gt.Equal(t, req.AtCapacity, false)
	gt.A(t, req.Existing).Length(3)
}

func TestBatchModeSelectionIdempotence(t *testing.T) {
	h := newHarness("2024-01-01", "2024-01-02")
	h.extractor.fn = returns(model.Candidate{Key: "pets", Summary: "Has a cat named Miso", Content: "Cat named Miso"})

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(2)
	gt.Equal(t, upserts[0].Mode, model.UpsertAdd)
	gt.NotEqual(t, upserts[1].Mode, model.UpsertAdd)
	gt.Equal(t, result.Created, 1)
	gt.Equal(t, result.Updated, 1)
}

func TestBatchSameDayDuplicateBecomesUpdate(t *testing.T) {
	h := newHarness("2024-01-01")
	h.extractor.fn = returns(
		model.Candidate{Key: "pets", Summary: "Has a cat", Content: "Cat"},
		model.Candidate{Key: "pets", Summary: "Has a cat named Miso", Content: "Cat named Miso"},
	)

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(2)
	gt.Equal(t, upserts[1].Mode, model.UpsertUpdate)
	gt.Equal(t, result.Created, 1)
	gt.Equal(t, result.Updated, 1)
}

func TestBatchConsolidatesRelatedKeys(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(
		model.MemoryDetail{Key: "music_preferences", Summary: "Likes jazz", Content: "Likes jazz"},
		model.MemoryDetail{Key: "favorite_band", Summary: "Loves Hiatus Kaiyote", Content: "Loves Hiatus Kaiyote"},
	)
	h.extractor.fn = returns(model.Candidate{
		Key:         "music_preferences",
		Summary:     "Likes jazz and neo-soul",
		Content:     "Has been listening to neo-soul",
		RelatedKeys: []string{"Favorite Band", "music_preferences", "unknown_key", "favorite_band"},
	})

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.Updated, 1)

	gt.Equal(t, h.consolidator.calls(), 1)
	req := h.consolidator.requests[0]
	gt.Equal(t, req.Key, "music_preferences")
	gt.A(t, req.Existing).Length(2)
	gt.Equal(t, req.Existing[0].Key, "music_preferences")
	gt.Equal(t, req.Existing[1].Key, "favorite_band")

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(1)
	gt.Equal(t, upserts[0].Mode, model.UpsertUpdate)
	gt.Equal(t, upserts[0].Summary, "merged: Likes jazz and neo-soul")
	gt.Equal(t, upserts[0].MergedFrom, []string{"favorite_band"})

	gt.Equal(t, h.store.deletes, []string{"favorite_band"})
}

func TestBatchNewKeyWithRelatedKeysIsAddedAndSupersedes(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(model.MemoryDetail{Key: "cat", Summary: "Has a cat", Content: "Has a cat"})
	h.extractor.fn = returns(model.Candidate{Key: "pets", Summary: "Has a cat and a dog", Content: "Adopted a dog", RelatedKeys: []string{"cat"}})

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)

	upserts := h.store.upsertCalls()
	gt.Equal(t, upserts[0].Mode, model.UpsertAdd)
	gt.Equal(t, result.Created, 1)
	gt.Equal(t, h.store.deletes, []string{"cat"})
	gt.Equal(t, h.consolidator.requests[0].Existing[0].Key, "cat")
}

func TestBatchNewKeySupersedingRelatedKeyAtCapacity(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), store.WithMaxMemories(2))
	gt.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, m := range []model.UpsertParams{
		{Key: "food_likes", Summary: "Likes ramen", Content: "Likes ramen", Mode: model.UpsertAdd},
		{Key: "hobbies", Summary: "Climbs", Content: "Goes climbing", Mode: model.UpsertAdd},
	} {
		res, err := st.Upsert(ctx, "alice", m)
		gt.NoError(t, err)
		gt.True(t, res.Success)
	}

	h := newHarness("2024-03-01")
	h.extractor.fn = returns(model.Candidate{
		Key:         "food_preferences",
		Summary:     "Likes ramen and sushi",
		Content:     "Also loves sushi",
		RelatedKeys: []string{"food_likes"},
	})

	cfg := pipeline.DefaultConfig()
	cfg.MaxMemoriesPerUser = 2
	p := pipeline.New(h.locker, h.source, st, h.extractor, h.consolidator, pipeline.WithConfig(cfg))

	result, err := p.Process(ctx, "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.Created, 1)
	gt.Equal(t, result.Dates, []string{"2024-03-01"})

	index, err := st.GetIndex(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, index.Len(), 2)
	gt.True(t, index.Has("food_preferences"))
	gt.Equal(t, index.Has("food_likes"), false)

	detail, err := st.GetDetail(ctx, "alice", "food_preferences")
	gt.NoError(t, err)
	gt.NotNil(t, detail)
	gt.Equal(t, detail.Summary, "merged: Likes ramen and sushi")
}

func TestBatchConsolidationBudgetFallsBackToMerge(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(
		model.MemoryDetail{Key: "name", Summary: "Alice", Content: "Alice"},
		model.MemoryDetail{Key: "pets", Summary: "Cat", Content: "Cat"},
		model.MemoryDetail{Key: "hobbies", Summary: "Climbing", Content: "Climbing"},
		model.MemoryDetail{Key: "cat", Summary: "Miso", Content: "Miso"},
	)
	h.extractor.fn = returns(
		model.Candidate{Key: "name", Summary: "Alice B.", Content: "Full name Alice B."},
		model.Candidate{Key: "pets", Summary: "Cat and dog", Content: "Dog too", RelatedKeys: []string{"cat"}},
		model.Candidate{Key: "hobbies", Summary: "Climbing and baking", Content: "Bakes"},
	)

	cfg := pipeline.DefaultConfig()
	cfg.ConsolidationCap = 1

	result, err := h.processor(pipeline.WithConfig(cfg)).Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, h.consolidator.calls(), 1)

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(3)
	gt.Equal(t, upserts[0].Mode, model.UpsertUpdate)
	gt.Equal(t, upserts[1].Mode, model.UpsertMerge)
	gt.Equal(t, upserts[1].Content, "Dog too")
	gt.A(t, upserts[1].MergedFrom).Length(0)
	gt.Equal(t, upserts[2].Mode, model.UpsertMerge)
	gt.Equal(t, result.Updated, 3)

	// Related keys are only deleted when their content was consolidated.
	gt.A(t, h.store.deletes).Length(0)
}

func TestBatchWriteFailureContinues(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store.upsertErr["pets"] = errors.New("write failed")
	h.extractor.fn = returns(
		model.Candidate{Key: "pets", Summary: "Cat", Content: "Cat"},
		model.Candidate{Key: "hobbies", Summary: "Climbing", Content: "Climbing"},
	)

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.Processed, 1)
	gt.Equal(t, result.Created, 1)
	gt.A(t, h.store.upsertCalls()).Length(2)
}

func TestBatchConsolidationFailureSkipsDay(t *testing.T) {
	h := newHarness("2024-01-01")
	h.store = newFakeStore(model.MemoryDetail{Key: "pets", Summary: "Cat", Content: "Cat"})
	h.consolidator.err = errors.New("malformed response")
	h.extractor.fn = returns(model.Candidate{Key: "pets", Summary: "Cat and dog", Content: "Dog"})

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.SkippedDates, []string{"2024-01-01"})
	gt.A(t, h.source.markedDates()).Length(0)
}

func TestBatchInvalidKeysAreDiscarded(t *testing.T) {
	h := newHarness("2024-01-01")
	h.extractor.fn = returns(
		model.Candidate{Key: "123bad", Summary: "x", Content: "x"},
		model.Candidate{Key: "Favorite Food!", Summary: "Ramen", Content: "Loves ramen"},
	)

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.Extracted, 2)
	gt.Equal(t, result.Created, 1)

	upserts := h.store.upsertCalls()
	gt.A(t, upserts).Length(1)
	gt.Equal(t, upserts[0].Key, "favorite_food")
}

func TestBatchEmptyDayIsMarkedWithoutExtraction(t *testing.T) {
	h := newHarness()
	h.source.days = []model.DailyNote{{Date: "2024-01-01", Entries: []model.NoteEntry{{Timestamp: 1, Content: "  "}}}}

	result, err := h.processor().Process(context.Background(), "alice", "")
	gt.NoError(t, err)
	gt.Equal(t, result.Processed, 1)
	gt.A(t, h.extractor.dates()).Length(0)
	gt.Equal(t, h.source.markedDates(), []string{"2024-01-01"})
}
