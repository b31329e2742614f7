package citations

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fleetcore-ai/compass/internal/sources"
)

// Families of factual claims that warrant a citation, in priority order.
// When fewer markers are needed than statements exist, quantities and
// identifiers are cited before softer claims.
const (
	familyQuantity = iota
	familyIdentifier
	familyClassification
	familyOwnership
	familyBuildDate
)

var statementPatterns = []struct {
	family  int
	pattern *regexp.Regexp
}{
	{familyQuantity, regexp.MustCompile(`(?i)\b\d[\d,.]*\s*(?:m|meters|metres|ft|feet|knots?|kn|GT|gross tons?(?:nage)?|tonnes?|tons?|dwt|TEU|kW|MW|hp|bhp|nautical miles|nm|cbm)\b`)},
	{familyIdentifier, regexp.MustCompile(`(?i)\b(?:(?:IMO|MMSI)[:\s]*\d{6,9}|call sign[:\s]+[A-Z0-9]{3,7})\b`)},
	{familyClassification, regexp.MustCompile(`(?i)\b(?:classed by|classification society|class society|(?:is|was) an? (?:[a-z]+\s+)?(?:bulk carrier|container ship|crude oil tanker|chemical tanker|tanker|general cargo (?:ship|vessel)|platform supply vessel|ro-ro|vehicles carrier))\b`)},
	{familyOwnership, regexp.MustCompile(`(?i)\b(?:owned by|operated by|managed by|registered owner|ship manager|management company|beneficial owner)\b`)},
	{familyBuildDate, regexp.MustCompile(`(?i)\b(?:(?:built|delivered|launched|completed|constructed) in \d{4}|year (?:built|of build)|keel laid)\b`)},
}

// Sentence boundaries follow the synthesis splitter: a run of terminal
// punctuation followed by whitespace or end of text.
var sentenceBoundaryPattern = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

var trailingMarkerPattern = regexp.MustCompile(`\[\d{1,3}\]\([^)]*\)$`)

type statement struct {
	start, end int
	family     int
}

// findStatements locates factual claims in content. Overlapping matches
// collapse to the longest span so "gross tonnage of 33,044 GT" yields one
// statement, not three.
func findStatements(content string) []statement {
	var all []statement
	for _, sp := range statementPatterns {
		for _, loc := range sp.pattern.FindAllStringIndex(content, -1) {
			all = append(all, statement{start: loc[0], end: loc[1], family: sp.family})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		li, lj := all[i].end-all[i].start, all[j].end-all[j].start
		if li != lj {
			return li > lj
		}
		return all[i].start < all[j].start
	})
	var kept []statement
	for _, s := range all {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	return kept
}

type insertion struct {
	pos    int
	marker string
}

// injectCitations appends up to need markers at the ends of sentences
// carrying factual statements, highest-priority statements first, cycling
// through sources. One marker per sentence; sentences that already cite a
// source are left alone. If statements run out before need is met, remaining
// markers go one per paragraph end.
func injectCitations(content string, srcs []sources.Source, need int) (string, int) {
	if need <= 0 || len(srcs) == 0 || strings.TrimSpace(content) == "" {
		return content, 0
	}

	boundaries := sentenceBoundaryPattern.FindAllStringIndex(content, -1)

	// Insertion point for a span is immediately after the terminal
	// punctuation of its sentence, or end of text for a trailing fragment.
	sentenceEnd := func(spanEnd int) int {
		for _, b := range boundaries {
			if b[1] >= spanEnd {
				punct := strings.TrimRight(content[b[0]:b[1]], " \t\n\r")
				return b[0] + len(punct)
			}
		}
		return len(content)
	}
	sentenceSpan := func(spanEnd int) (int, int) {
		start := 0
		for _, b := range boundaries {
			if b[1] >= spanEnd {
				return start, b[1]
			}
			start = b[1]
		}
		return start, len(content)
	}

	stmts := findStatements(content)
	sort.Slice(stmts, func(i, j int) bool {
		if stmts[i].family != stmts[j].family {
			return stmts[i].family < stmts[j].family
		}
		return stmts[i].start < stmts[j].start
	})

	var inserts []insertion
	usedPos := make(map[int]bool)
	next := 0
	place := func(pos int) {
		idx := next % len(srcs)
		inserts = append(inserts, insertion{pos: pos, marker: fmt.Sprintf("[%d](%s)", idx+1, srcs[idx].URL)})
		usedPos[pos] = true
		next++
	}

	for _, s := range stmts {
		if len(inserts) >= need {
			break
		}
		ss, se := sentenceSpan(s.end)
		if anyMarkerPattern.MatchString(content[ss:se]) {
			continue
		}
		pos := sentenceEnd(s.end)
		if usedPos[pos] {
			continue
		}
		place(pos)
	}

	if len(inserts) < need {
		offset := 0
		for _, para := range strings.Split(content, "\n\n") {
			if len(inserts) >= need {
				break
			}
			trimmed := strings.TrimRight(para, " \t\n\r")
			end := offset + len(trimmed)
			offset += len(para) + len("\n\n")
			if len(trimmed) == 0 || usedPos[end] || trailingMarkerPattern.MatchString(trimmed) {
				continue
			}
			place(end)
		}
	}

	if len(inserts) == 0 {
		return content, 0
	}
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].pos > inserts[j].pos })
	out := content
	for _, ins := range inserts {
		out = out[:ins.pos] + ins.marker + out[ins.pos:]
	}
	return out, len(inserts)
}
