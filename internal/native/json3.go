package native

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/subsync/internal/subtitle"
)

type json3Document struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    *int64     `json:"tStartMs,omitempty"`
	DDurationMs *int64     `json:"dDurationMs,omitempty"`
	Segs        []json3Seg `json:"segs,omitempty"`
}

type json3Seg struct {
	UTF8 string `json:"utf8"`
}

func (e json3Event) text() string {
	var b strings.Builder
	for _, s := range e.Segs {
		b.WriteString(s.UTF8)
	}
	return strings.TrimSpace(b.String())
}

// ParseJSON3 converts a YouTube json3 caption document into raw items. Events
// without timing or text are skipped; the rest is left to subtitle.Parse.
func ParseJSON3(data []byte) ([]subtitle.RawItem, error) {
	var doc json3Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json3: %w", err)
	}

	items := make([]subtitle.RawItem, 0, len(doc.Events))
	for _, ev := range doc.Events {
		if ev.TStartMs == nil || ev.DDurationMs == nil {
			continue
		}
		text := ev.text()
		if text == "" {
			continue
		}
		start := *ev.TStartMs
		items = append(items, subtitle.RawItem{
			From:    float64(start) / 1000,
			To:      float64(start+*ev.DDurationMs) / 1000,
			Content: text,
		})
	}
	return items, nil
}
