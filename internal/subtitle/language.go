package subtitle

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage guesses the dominant language of the segment texts.
func DetectLanguage(segments []Segment) language.Tag {
	if len(segments) == 0 {
		return language.Und
	}

	counts := make(map[string]int)
	for _, seg := range segments {
		info := whatlanggo.Detect(seg.Text)
		if !info.IsReliable() && len(segments) > 1 {
			continue
		}
		counts[info.Lang.Iso6391()]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return language.Und
	}

	tag, err := language.Parse(top)
	if err != nil {
		return language.Und
	}
	return tag
}
