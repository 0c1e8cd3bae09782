// Package assembler splices generated images into a markdown article.
package assembler

import (
	"regexp"
	"strings"
)

// Image is one asset to place in the document.
type Image struct {
	URL string
	Alt string
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,3})[ \t]+\S`)
	fencePattern   = regexp.MustCompile("^[ \t]{0,3}(`{3,}|~{3,})")
	imagePattern   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	headingPrefix  = regexp.MustCompile(`^[ \t]{0,3}#{1,6}[ \t]+`)
)

type segment struct {
	level int // 0 for text before the first heading
	lines []string
}

// Insert places images under the document's lower-level (## and ###)
// headings in order. Top-level headings are never illustrated, and the
// first lower-level section is the introduction and stays image-free.
// Existing content is never reordered.
func Insert(document string, images []Image) string {
	if len(images) == 0 || document == "" {
		return document
	}
	segments := split(document)

	next := 0
	introSeen := false
	for i := range segments {
		if next >= len(images) {
			break
		}
		seg := &segments[i]
		if seg.level < 2 {
			continue
		}
		if !introSeen {
			introSeen = true
			continue
		}
		seg.lines = insertAfterHeading(seg.lines, marker(images[next]))
		next++
	}
	if next == 0 {
		return document
	}
	return join(segments)
}

// Marker renders the markdown image syntax for img.
func Marker(img Image) string { return marker(img) }

func marker(img Image) string {
	alt := strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(strings.TrimSpace(img.Alt))
	return "![" + alt + "](" + strings.TrimSpace(img.URL) + ")"
}

func split(document string) []segment {
	lines := strings.Split(document, "\n")
	segments := []segment{{level: 0}}
	// fence holds the opening marker inside a code block; only the same
	// character, at least as long, closes it
	fence := ""
	for _, line := range lines {
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				fence = m[1]
			case m[1][0] == fence[0] && len(m[1]) >= len(fence):
				fence = ""
			}
		}
		if fence == "" {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				segments = append(segments, segment{level: len(m[1]), lines: []string{line}})
				continue
			}
		}
		last := &segments[len(segments)-1]
		last.lines = append(last.lines, line)
	}
	return segments
}

// insertAfterHeading adds the marker as its own paragraph right below the
// heading line.
func insertAfterHeading(lines []string, mark string) []string {
	out := make([]string, 0, len(lines)+3)
	out = append(out, lines[0], "", mark)
	rest := lines[1:]
	if len(rest) == 0 || strings.TrimSpace(rest[0]) != "" {
		out = append(out, "")
	}
	return append(out, rest...)
}

func join(segments []segment) string {
	var total []string
	for _, seg := range segments {
		total = append(total, seg.lines...)
	}
	return strings.Join(total, "\n")
}

// CountWords counts words in markdown, ignoring image markers and heading
// hashes.
func CountWords(markdown string) int {
	text := imagePattern.ReplaceAllString(markdown, " ")
	count := 0
	for _, line := range strings.Split(text, "\n") {
		line = headingPrefix.ReplaceAllString(line, "")
		for _, field := range strings.Fields(line) {
			if strings.Trim(field, "#*_`>-|") == "" {
				continue
			}
			count++
		}
	}
	return count
}
