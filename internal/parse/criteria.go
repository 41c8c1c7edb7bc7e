package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// ChecklistItem is one acceptance criterion extracted from an issue body.
type ChecklistItem struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Required bool     `json:"required"`
	Tags     []string `json:"tags"`
}

var (
	acSectionRe = regexp.MustCompile(`(?is)##\s*Acceptance\s+Criteria\s*\n(.*?)(\n##|\z)`)
	bulletRe    = regexp.MustCompile(`^[\*\-\+]\s+(.+)$`)
	optionalRe  = regexp.MustCompile(`(?i)\[optional\]`)
	requiredRe  = regexp.MustCompile(`(?i)\[required\]`)
	tagRe       = regexp.MustCompile(`\[([^\]]+)\]`)
)

// AcceptanceCriteria extracts checklist items from an issue body. An
// explicit "## Acceptance Criteria" section wins; otherwise every bullet in
// the document is taken as a criterion. Items are numbered C1..Cn.
func AcceptanceCriteria(body string) []ChecklistItem {
	if body == "" {
		return nil
	}

	var items []ChecklistItem
	if m := acSectionRe.FindStringSubmatch(body); m != nil {
		items = parseBullets(m[1])
	} else {
		for _, line := range strings.Split(body, "\n") {
			if b := bulletRe.FindStringSubmatch(strings.TrimSpace(line)); b != nil {
				items = append(items, ChecklistItem{Text: strings.TrimSpace(b[1]), Required: true, Tags: []string{}})
			}
		}
	}

	for i := range items {
		items[i].ID = fmt.Sprintf("C%d", i+1)
	}
	return items
}

func parseBullets(content string) []ChecklistItem {
	var items []ChecklistItem
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])

		required := true
		if optionalRe.MatchString(text) {
			required = false
			text = strings.TrimSpace(optionalRe.ReplaceAllString(text, ""))
		} else if requiredRe.MatchString(text) {
			text = strings.TrimSpace(requiredRe.ReplaceAllString(text, ""))
		}

		tags := []string{}
		for _, tm := range tagRe.FindAllStringSubmatch(text, -1) {
			tags = append(tags, tm[1])
		}
		text = strings.TrimSpace(tagRe.ReplaceAllString(text, ""))

		items = append(items, ChecklistItem{Text: text, Required: required, Tags: tags})
	}
	return items
}
