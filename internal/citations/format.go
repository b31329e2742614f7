package citations

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetcore-ai/compass/internal/sources"
)

const sourcesHeading = "## Sources"

// FormatAnswerWithSources appends a numbered source appendix to an answer.
// Any existing appendix is replaced so repeated formatting never stacks
// headings. Sources cited inline are labeled as such; the rest are listed
// as additional reading.
func FormatAnswerWithSources(answer string, srcs []sources.Source) string {
	if len(srcs) == 0 {
		return answer
	}

	body := answer
	if idx := strings.LastIndex(body, sourcesHeading); idx >= 0 {
		body = body[:idx]
	}
	body = strings.TrimRight(body, "\n")

	used := make(map[int]bool)
	for _, m := range anyMarkerPattern.FindAllString(body, -1) {
		if strings.HasPrefix(m, "[[") {
			continue
		}
		if n, err := strconv.Atoi(markerIndexPattern.FindString(m)); err == nil {
			used[n] = true
		}
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(sourcesHeading)
	b.WriteString("\n\n")
	for i, src := range srcs {
		title := strings.TrimSpace(src.Title)
		if title == "" {
			if domain, err := sources.ExtractDomain(src.URL); err == nil {
				title = domain
			}
		}
		fmt.Fprintf(&b, "[%d] %s (%s)", i+1, title, src.URL)
		if src.Tier != "" {
			fmt.Fprintf(&b, " [%s]", src.Tier)
		}
		if used[i+1] {
			b.WriteString(" - Cited inline")
		} else {
			b.WriteString(" - Additional source")
		}
		b.WriteString("\n")
	}
	return b.String()
}
