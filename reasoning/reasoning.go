// Package reasoning detects and manipulates chain-of-thought segments that
// models interleave with their answers, such as <think>...</think>.
package reasoning

import (
	"regexp"
	"strconv"
	"strings"
)

// Tags recognised as segment delimiters.
var Tags = []string{"think", "reason", "reasoning", "thought", "tool_run"}

var (
	tagAlternation = strings.Join(Tags, "|")

	openTagPattern      = regexp.MustCompile(`(?i)<(` + tagAlternation + `)>`)
	closeTagPattern     = regexp.MustCompile(`(?i)</(` + tagAlternation + `)>`)
	closeWithDuration   = regexp.MustCompile(`(?i)</(` + tagAlternation + `)(?:\s+duration="(\d+)")?>`)
	segmentPattern      = regexp.MustCompile(`(?is)<(` + tagAlternation + `)>.*?</(` + tagAlternation + `)>`)
	inlineMarkerPattern = regexp.MustCompile(`(?i)</?(` + tagAlternation + `)>`)
)

const thinkTag = "<think>"

// SegmentType classifies a parsed span of model output.
type SegmentType string

const (
	SegmentText      SegmentType = "text"
	SegmentReasoning SegmentType = "reasoning"
	SegmentToolRun   SegmentType = "tool_run"
)

// Segment is one ordered span of parsed output.
type Segment struct {
	Type    SegmentType `json:"type"`
	Content string      `json:"content"`
	// Done is set on reasoning and tool_run segments whose close tag was seen.
	Done bool `json:"done,omitempty"`
	// Duration is the duration="N" attribute of a closed tool_run segment.
	Duration *int `json:"duration,omitempty"`
}

// IsReasoningStarted reports whether an opening tag is present.
func IsReasoningStarted(text string) bool {
	return openTagPattern.MatchString(text)
}

// IsReasoningEnded reports whether a closing tag is present.
func IsReasoningEnded(text string) bool {
	return closeTagPattern.MatchString(text)
}

// RemoveReasoning strips every complete segment and trims the result.
func RemoveReasoning(text string) string {
	return strings.TrimSpace(segmentPattern.ReplaceAllString(text, ""))
}

// MergeReasoningContent folds a reasoning delta into the accumulated text,
// keeping a single leading <think> marker.
func MergeReasoningContent(original, reasoning string) string {
	original = strings.Replace(original, thinkTag, "", 1)
	return thinkTag + original + reasoning
}

// StripMarkers removes the tag markers but keeps segment bodies.
func StripMarkers(text string) string {
	return inlineMarkerPattern.ReplaceAllString(text, "")
}

// ParseReasoning splits text into ordered text, reasoning and tool_run segments.
func ParseReasoning(text string) []Segment {
	var (
		result  []Segment
		current SegmentType
		rest    = text
	)

	for len(rest) > 0 {
		if current == "" {
			loc := openTagPattern.FindStringSubmatchIndex(rest)
			if loc == nil {
				break
			}
			if before := strings.TrimSpace(rest[:loc[0]]); before != "" {
				result = append(result, Segment{Type: SegmentText, Content: before})
			}
			current = SegmentReasoning
			if strings.EqualFold(rest[loc[2]:loc[3]], "tool_run") {
				current = SegmentToolRun
			}
			rest = rest[loc[1]:]
			continue
		}

		loc := closeWithDuration.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if body := strings.TrimSpace(rest[:loc[0]]); body != "" {
			seg := Segment{Type: current, Content: body, Done: true}
			if current == SegmentToolRun && loc[4] >= 0 {
				if d, err := strconv.Atoi(rest[loc[4]:loc[5]]); err == nil {
					seg.Duration = &d
				}
			}
			result = append(result, seg)
		}
		current = ""
		rest = rest[loc[1]:]
	}

	if len(rest) > 0 {
		seg := Segment{Type: SegmentText, Content: strings.TrimSpace(rest)}
		if current != "" {
			seg.Type = current
		}
		result = append(result, seg)
	}

	return result
}
