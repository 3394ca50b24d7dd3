package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

// processDay extracts, consolidates and stores the memories of one day.
// Extraction, consolidation and index reads fail the day. A failed write only
// skips its candidate.
func (p *Processor) processDay(ctx context.Context, userID string, day model.DailyNote, loc *time.Location) (model.BatchResult, error) {
	logger := logging.From(ctx)
	var result model.BatchResult

	text := renderNotes(day.Entries, dayLocation(day, loc))
	if text == "" {
		logger.Debug("day has no note text")
		return result, nil
	}

	index, err := p.memories.GetIndex(ctx, userID)
	if err != nil {
		return result, goerr.Wrap(err, "failed to read memory index")
	}
	working := newWorkingIndex(index)

	remaining := p.cfg.MaxMemoriesPerUser - working.count()
	limit := min(p.cfg.ExtractionCap, max(remaining, 0))
	atCapacity := limit == 0
	if atCapacity {
		limit = p.cfg.AtCapacityExtractionCap
	}

	candidates, err := p.extractor.Extract(ctx, model.ExtractionRequest{
		Date:       day.Date,
		NoteText:   text,
		Existing:   working.snapshot(),
		Limit:      limit,
		AtCapacity: atCapacity,
	})
	if err != nil {
		return result, goerr.Wrap(err, "extraction failed")
	}
	result.Extracted = len(candidates)
	logger.Debug("extracted candidates", "count", len(candidates), "limit", limit, "at_capacity", atCapacity)

	consolidations := 0
	for _, c := range candidates {
		key := SanitizeKey(c.Key)
		if key == "" {
			logger.Debug("discarding candidate with unusable key", "raw_key", c.Key)
			continue
		}
		exists := working.has(key)
		related := working.related(key, c.RelatedKeys)

		if !exists && len(related) == 0 && working.count() >= p.cfg.MaxMemoriesPerUser {
			logger.Info("memory capacity reached, skipping new key", "key", key)
			continue
		}

		summary, content := c.Summary, c.Content
		consolidated := false
		if (exists || len(related) > 0) && consolidations < p.cfg.ConsolidationCap {
			consolidations++
			merged, err := p.consolidate(ctx, userID, key, exists, related, c)
			if err != nil {
				return result, err
			}
			summary, content = merged.Summary, merged.Content
			consolidated = true
		}
		if !consolidated {
			related = nil
		}

		mode := selectMode(exists, consolidated)
		res, err := p.memories.Upsert(ctx, userID, model.UpsertParams{
			Key:        key,
			Summary:    summary,
			Content:    content,
			Mode:       mode,
			MergedFrom: related,
		})
		if err != nil {
			logger.Warn("failed to store memory", "key", key, "mode", mode, logging.ErrAttr(err))
			continue
		}
		if res == nil || !res.Success {
			msg := ""
			if res != nil {
				msg = res.Message
			}
			logger.Warn("memory write rejected", "key", key, "mode", mode, "message", msg)
			continue
		}

		if mode == model.UpsertAdd {
			result.Created++
		} else {
			result.Updated++
		}
		working.set(key, summary)

		for _, rk := range related {
			del, err := p.memories.Delete(ctx, userID, rk)
			if err != nil {
				logger.Warn("failed to delete superseded memory", "key", rk, "merged_into", key, logging.ErrAttr(err))
				continue
			}
			if del != nil && del.Success {
				working.remove(rk)
			}
		}
	}

	return result, nil
}

func (p *Processor) consolidate(ctx context.Context, userID, key string, exists bool, related []string, c model.Candidate) (*model.Consolidated, error) {
	keys := related
	if exists {
		keys = append([]string{key}, related...)
	}

	existing := make([]model.MemoryDetail, 0, len(keys))
	for _, k := range keys {
		detail, err := p.memories.GetDetail(ctx, userID, k)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read memory detail", goerr.V("key", k))
		}
		if detail != nil {
			existing = append(existing, *detail)
		}
	}

	merged, err := p.consolidator.Consolidate(ctx, model.ConsolidationRequest{
		Key:      key,
		New:      c,
		Existing: existing,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "consolidation failed", goerr.V("key", key))
	}
	return merged, nil
}

// selectMode picks how a candidate is written. An existing key is never
// added again: it is replaced by the consolidated text, or appended to when
// the day ran out of consolidation calls.
func selectMode(exists, consolidated bool) model.UpsertMode {
	switch {
	case exists && consolidated:
		return model.UpsertUpdate
	case exists:
		return model.UpsertMerge
	default:
		return model.UpsertAdd
	}
}

// SanitizeKey normalizes a memory key to lowercase [a-z0-9_], at most
// model.MaxKeyLen long. Spaces and hyphens become underscores. It returns ""
// when the result is empty or does not start with a letter.
func SanitizeKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}

	key := b.String()
	if len(key) > model.MaxKeyLen {
		key = key[:model.MaxKeyLen]
	}
	if key == "" || key[0] < 'a' || key[0] > 'z' {
		return ""
	}
	return key
}

// renderNotes formats entries as "HH:MM content" lines in loc.
func renderNotes(entries []model.NoteEntry, loc *time.Location) string {
	var b strings.Builder
	for _, e := range entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Time(loc).Format("15:04"))
		b.WriteByte(' ')
		b.WriteString(content)
	}
	return b.String()
}

func dayLocation(day model.DailyNote, fallback *time.Location) *time.Location {
	if day.TimeZone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(day.TimeZone)
	if err != nil {
		return fallback
	}
	return loc
}

// workingIndex is the day's view of the memory index, updated as candidates
// are stored so later candidates see earlier ones.
type workingIndex struct {
	index model.MemoryIndex
}

func newWorkingIndex(index *model.MemoryIndex) *workingIndex {
	w := &workingIndex{index: model.MemoryIndex{Entries: []model.MemoryIndexEntry{}}}
	if index != nil {
		w.index.Entries = append(w.index.Entries, index.Entries...)
	}
	return w
}

func (w *workingIndex) count() int { return w.index.Len() }

func (w *workingIndex) has(key string) bool { return w.index.Has(key) }

func (w *workingIndex) find(key string) int {
	for i, e := range w.index.Entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func (w *workingIndex) set(key, summary string) {
	summary = model.Truncate(summary, model.MaxSummaryLen)
	if i := w.find(key); i >= 0 {
		w.index.Entries[i].Summary = summary
		return
	}
	w.index.Entries = append(w.index.Entries, model.MemoryIndexEntry{Key: key, Summary: summary})
}

func (w *workingIndex) remove(key string) {
	if i := w.find(key); i >= 0 {
		w.index.Entries = append(w.index.Entries[:i], w.index.Entries[i+1:]...)
	}
}

func (w *workingIndex) snapshot() []model.MemoryIndexEntry {
	out := make([]model.MemoryIndexEntry, len(w.index.Entries))
	copy(out, w.index.Entries)
	return out
}

// related sanitizes raw related keys and keeps the ones that exist in the
// index and differ from key, without duplicates.
func (w *workingIndex) related(key string, raw []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range raw {
		k := SanitizeKey(r)
		if k == "" || k == key || seen[k] || !w.has(k) {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
