package citations

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fleetcore-ai/compass/internal/sources"
)

// Marker spellings. Generation models produce four variants; everything is
// normalized to the canonical "[n](url)" form. Indices are capped at three
// digits so bracketed years are never mistaken for markers.
var (
	anyMarkerPattern = regexp.MustCompile(`\[\[\d{1,3}\]\]\([^)]*\)|\[\[\d{1,3}\]\]|\[\d{1,3}\]\([^)]*\)|\[\d{1,3}\]`)

	doubledLinkedForm = regexp.MustCompile(`^\[\[(\d{1,3})\]\]\(([^)]*)\)$`)
	doubledForm       = regexp.MustCompile(`^\[\[(\d{1,3})\]\]$`)
	linkedForm        = regexp.MustCompile(`^\[(\d{1,3})\]\(([^)]*)\)$`)
	bareForm          = regexp.MustCompile(`^\[(\d{1,3})\]$`)

	markerIndexPattern = regexp.MustCompile(`\d{1,3}`)
)

// InvalidMarker is a citation marker whose index does not address any
// source. Invalid markers are reported and left exactly as written; they are
// never clamped or rewritten.
type InvalidMarker struct {
	Index int    `json:"index"`
	Form  string `json:"form"`
}

// repairMarkers normalizes legacy marker spellings in one pass:
// "[[n]](url)" drops the doubled brackets, "[[n]]" and bare "[n]" gain the
// indexed source's URL. Canonical "[n](url)" markers pass through. Each
// textual occurrence is visited exactly once, so invalid indices are
// reported once per occurrence.
func repairMarkers(content string, srcs []sources.Source) (string, int, []InvalidMarker) {
	repairs := 0
	var invalid []InvalidMarker

	inRange := func(n int) bool { return n >= 1 && n <= len(srcs) }

	out := anyMarkerPattern.ReplaceAllStringFunc(content, func(m string) string {
		if sub := doubledLinkedForm.FindStringSubmatch(m); sub != nil {
			n, _ := strconv.Atoi(sub[1])
			if !inRange(n) {
				invalid = append(invalid, InvalidMarker{Index: n, Form: m})
				return m
			}
			repairs++
			return fmt.Sprintf("[%d](%s)", n, sub[2])
		}
		if sub := doubledForm.FindStringSubmatch(m); sub != nil {
			n, _ := strconv.Atoi(sub[1])
			if !inRange(n) {
				invalid = append(invalid, InvalidMarker{Index: n, Form: m})
				return m
			}
			repairs++
			return fmt.Sprintf("[%d](%s)", n, srcs[n-1].URL)
		}
		if sub := linkedForm.FindStringSubmatch(m); sub != nil {
			n, _ := strconv.Atoi(sub[1])
			if !inRange(n) {
				invalid = append(invalid, InvalidMarker{Index: n, Form: m})
			}
			return m
		}
		if sub := bareForm.FindStringSubmatch(m); sub != nil {
			n, _ := strconv.Atoi(sub[1])
			if !inRange(n) {
				invalid = append(invalid, InvalidMarker{Index: n, Form: m})
				return m
			}
			repairs++
			return fmt.Sprintf("[%d](%s)", n, srcs[n-1].URL)
		}
		return m
	})

	return out, repairs, invalid
}

// countMarkers counts citation marker occurrences whose index addresses a
// source. Both linked and bare forms count; out-of-range markers never do.
func countMarkers(content string, sourceCount int) int {
	count := 0
	for _, m := range anyMarkerPattern.FindAllString(content, -1) {
		if strings.HasPrefix(m, "[[") {
			continue
		}
		n, err := strconv.Atoi(markerIndexPattern.FindString(m))
		if err == nil && n >= 1 && n <= sourceCount {
			count++
		}
	}
	return count
}
