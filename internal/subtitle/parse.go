package subtitle

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/MimeLyc/subsync/pkg/log"
)

// SegmentID builds the stable id of the segment at index.
func SegmentID(index int) string {
	return fmt.Sprintf("subtitle-%d", index)
}

// Parse validates raw items and turns the survivors into segments.
// Invalid items are dropped one by one; the rest of the list is kept.
func Parse(videoID string, items []RawItem, source Source) []Segment {
	ret := make([]Segment, 0, len(items))
	for i, item := range items {
		if reason := rejectReason(item); reason != "" {
			log.Debug("Drop subtitle item %d of video %s: %s", i, videoID, reason)
			continue
		}

		index := len(ret)
		seg := Segment{
			ID:        SegmentID(index),
			VideoID:   videoID,
			StartTime: item.From,
			EndTime:   item.To,
			Text:      strings.TrimSpace(item.Content),
			Index:     index,
			Source:    source,
		}
		if source == SourceSpeech && item.Confidence != nil {
			c := *item.Confidence
			if c >= 0 && c <= 1 {
				seg.Confidence = &c
			}
		}
		ret = append(ret, seg)
	}

	if dropped := len(items) - len(ret); dropped > 0 {
		log.Warn("Dropped %d of %d subtitle items for video %s", dropped, len(items), videoID)
	}

	// ids follow emission order, storage order follows start time
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].StartTime < ret[j].StartTime
	})
	return ret
}

func rejectReason(item RawItem) string {
	switch {
	case !finite(item.From) || !finite(item.To):
		return "non-numeric timing"
	case item.From < 0:
		return "negative start"
	case item.To <= item.From:
		return "end not after start"
	case strings.TrimSpace(item.Content) == "":
		return "blank text"
	}
	return ""
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ParseJSON parses a JSON array of {from, to, content} records. Anything that
// is not an array yields an empty result; malformed records are dropped.
func ParseJSON(videoID string, data []byte, source Source) []Segment {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("Subtitle payload for video %s is not valid JSON: %v", videoID, err)
		return []Segment{}
	}
	list, ok := doc.([]any)
	if !ok {
		log.Warn("Subtitle payload for video %s is not an array", videoID)
		return []Segment{}
	}

	items := make([]RawItem, 0, len(list))
	for _, v := range list {
		obj, ok := v.(map[string]any)
		if !ok {
			// keep position so the drop is counted
			items = append(items, RawItem{From: math.NaN(), To: math.NaN()})
			continue
		}
		items = append(items, rawItemFromMap(obj))
	}
	return Parse(videoID, items, source)
}

func rawItemFromMap(obj map[string]any) RawItem {
	item := RawItem{From: math.NaN(), To: math.NaN()}
	if f, ok := obj["from"].(float64); ok {
		item.From = f
	}
	if f, ok := obj["to"].(float64); ok {
		item.To = f
	}
	if s, ok := obj["content"].(string); ok {
		item.Content = s
	}
	if c, ok := obj["confidence"].(float64); ok {
		item.Confidence = &c
	}
	return item
}
