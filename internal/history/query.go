package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoKeywords is returned when a search has nothing left to match
	// after trimming.
	ErrNoKeywords = errors.New("no usable keywords")

	// ErrInvalidOffset is returned for non-positive reverse offsets.
	ErrInvalidOffset = errors.New("offsets must be positive integers")

	// ErrInvalidTime is returned when a time bound matches no accepted layout.
	ErrInvalidTime = errors.New("unrecognized time format")
)

// Query limits.
const (
	MaxContextWindow = 10
	MaxGroups        = 20
	MaxRangeLines    = 500
	MaxWindowLines   = 500
)

// timeLayouts are tried in order when parsing window bounds and stored
// record times.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Segment is one keyword hit expanded with its neighbouring records.
type Segment struct {
	MatchedKeywords []string
	AnchorIndex     int
	Records         []Record
	Lines           []string
}

// RangeResult is the answer to a reverse-offset query. Offsets are echoed
// after swapping and clamping.
type RangeResult struct {
	StartOffset int
	EndOffset   int
	Lines       []string
	Total       int
}

type keyword struct {
	orig  string
	lower string
}

// SearchWithContext finds records containing any keyword (case-insensitive
// substring) and returns each hit with contextWindow records on either
// side. The newest excludeRecent records are never scanned, so a caller
// that already shows them to the model does not get them back. The scan
// runs newest-first and stops after maxGroups segments; records already
// emitted in an earlier segment are not re-anchored.
func (s *Store) SearchWithContext(ctx context.Context, chatID string, keywords []string, contextWindow, maxGroups, excludeRecent int) ([]Segment, error) {
	var kws []keyword
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		kws = append(kws, keyword{orig: k, lower: strings.ToLower(k)})
	}
	if len(kws) == 0 {
		return nil, ErrNoKeywords
	}

	contextWindow = clamp(contextWindow, 0, MaxContextWindow)
	maxGroups = clamp(maxGroups, 1, MaxGroups)
	if excludeRecent < 0 {
		excludeRecent = 0
	}

	records, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	total := len(records)
	cutoff := total - excludeRecent
	if cutoff <= 0 {
		return nil, nil
	}

	used := make(map[int]bool)
	var segments []Segment

	for idx := cutoff - 1; idx >= 0; idx-- {
		content := records[idx].Content
		if content == "" {
			continue
		}

		lower := strings.ToLower(content)
		var matched []string
		for _, kw := range kws {
			if strings.Contains(lower, kw.lower) {
				matched = append(matched, kw.orig)
			}
		}
		if len(matched) == 0 || used[idx] {
			continue
		}

		start := max(0, idx-contextWindow)
		end := min(total, idx+contextWindow+1)

		seg := Segment{MatchedKeywords: matched, AnchorIndex: idx}
		seen := make(map[string]bool)
		for pos := start; pos < end; pos++ {
			seg.Records = append(seg.Records, records[pos])
			line := records[pos].Line()
			if !seen[line] {
				seen[line] = true
				seg.Lines = append(seg.Lines, line)
			}
			used[pos] = true
		}
		segments = append(segments, seg)

		if len(segments) >= maxGroups {
			break
		}
	}

	return segments, nil
}

// ReverseRange returns the records between two offsets counted back from
// the newest record (offset 1 is the newest), inclusive. Inverted bounds
// are swapped and both are clamped to what the chat holds.
func (s *Store) ReverseRange(ctx context.Context, chatID string, startOffset, endOffset int) (*RangeResult, error) {
	if startOffset <= 0 || endOffset <= 0 {
		return nil, ErrInvalidOffset
	}
	if startOffset > endOffset {
		startOffset, endOffset = endOffset, startOffset
	}

	records, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	total := len(records)
	res := &RangeResult{StartOffset: startOffset, EndOffset: endOffset, Total: total, Lines: []string{}}
	if total == 0 {
		return res, nil
	}

	res.StartOffset = min(startOffset, total)
	res.EndOffset = min(endOffset, total)

	first := max(total-res.EndOffset, 0)
	last := min(total-res.StartOffset, total-1)
	if last < first {
		return res, nil
	}

	selected := records[first : last+1]
	if len(selected) > MaxRangeLines {
		selected = selected[len(selected)-MaxRangeLines:]
	}
	for _, r := range selected {
		res.Lines = append(res.Lines, r.Line())
	}
	return res, nil
}

// TimeWindow returns formatted lines whose stored time falls within
// [start, end], oldest-first. The newest excludeRecent records are skipped
// and internal tool payloads are left out.
func (s *Store) TimeWindow(ctx context.Context, chatID, start, end string, excludeRecent int) ([]string, error) {
	startT, err := ParseTime(start)
	if err != nil {
		return nil, fmt.Errorf("start time %q: %w", start, err)
	}
	endT, err := ParseTime(end)
	if err != nil {
		return nil, fmt.Errorf("end time %q: %w", end, err)
	}
	if startT.After(endT) {
		startT, endT = endT, startT
	}

	records, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	cutoff := len(records) - max(excludeRecent, 0)
	if cutoff <= 0 {
		return []string{}, nil
	}

	var collected []string
	for idx := cutoff - 1; idx >= 0; idx-- {
		r := records[idx]
		if isInternal(r.Content) {
			continue
		}
		t, err := ParseTime(r.TimeString)
		if err != nil {
			continue
		}
		if t.Before(startT) || t.After(endT) {
			continue
		}
		collected = append(collected, r.Line())
		if len(collected) >= MaxWindowLines {
			break
		}
	}

	// Collected newest-first; callers want chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	if collected == nil {
		collected = []string{}
	}
	return collected, nil
}

// ParseTime parses s in the local zone using the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTime
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidTime
}

// isInternal reports whether content is a raw tool payload (a JSON object)
// rather than something a person said.
func isInternal(content string) bool {
	c := strings.TrimSpace(content)
	if !strings.HasPrefix(c, "{") || !strings.HasSuffix(c, "}") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(c), &obj) == nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
