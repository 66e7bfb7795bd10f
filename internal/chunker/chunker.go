// Package chunker turns a raw generator reply into ordered, speakable
// text units. It is pure: no I/O, same input always yields the same
// output.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minRunes is the shortest candidate kept after trimming. Anything
// shorter is noise the synthesizer would garble.
const minRunes = 3

type lineKind int

const (
	linePlain lineKind = iota
	lineBlank
	lineHeading
	lineBullet
	lineNumbered
)

// Split strips markup from text and returns the ordered chunk sequence.
// The result may be empty when the reply was pure markup.
func Split(text string) []string {
	text = StripMarkup(text)

	var chunks []string
	var buf []string

	flush := func() {
		t := collapse(strings.Join(buf, " "))
		if utf8.RuneCountInString(t) >= minRunes {
			chunks = append(chunks, t)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		kind, content := classifyLine(stripped)
		switch kind {
		case lineBlank:
			flush()
		case lineHeading, lineBullet, lineNumbered:
			// Structural lines become their own chunk, never merged
			// with surrounding paragraph text.
			flush()
			item := collapse(content)
			if utf8.RuneCountInString(item) >= minRunes {
				chunks = append(chunks, item)
			}
		default:
			buf = append(buf, stripped)
		}
	}
	flush()

	var final []string
	for _, chunk := range chunks {
		for _, piece := range splitSentences(chunk) {
			piece = strings.TrimSpace(piece)
			if utf8.RuneCountInString(piece) >= minRunes {
				final = append(final, piece)
			}
		}
	}
	return final
}

// StripMarkup removes emphasis markers, inline code spans, stray
// backticks, and bare URLs. Running it on already-stripped text is a
// no-op.
func StripMarkup(text string) string {
	text = strings.ReplaceAll(text, "*", "")
	text = stripCodeSpans(text)
	text = strings.ReplaceAll(text, "`", "")
	text = stripURLs(text)
	return text
}

// stripCodeSpans drops `...` spans including their content. A backtick
// with no closing partner is left for the stray-backtick pass.
func stripCodeSpans(text string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(text, '`')
		if open < 0 {
			b.WriteString(text)
			break
		}
		end := strings.IndexByte(text[open+1:], '`')
		if end < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:open])
		text = text[open+1+end+1:]
	}
	return b.String()
}

func stripURLs(text string) string {
	runes := []rune(text)
	var b strings.Builder
	for i := 0; i < len(runes); {
		if hasURLScheme(runes[i:]) {
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				i++
			}
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

func hasURLScheme(runes []rune) bool {
	const httpScheme, httpsScheme = "http://", "https://"
	if len(runes) >= len(httpsScheme) && string(runes[:len(httpsScheme)]) == httpsScheme {
		return true
	}
	return len(runes) >= len(httpScheme) && string(runes[:len(httpScheme)]) == httpScheme
}

// classifyLine decides what a trimmed line contributes: a blank flushes
// the paragraph buffer, structural lines (heading, bullet, numbered
// item) carry their own content, anything else is plain paragraph text.
func classifyLine(line string) (lineKind, string) {
	if line == "" {
		return lineBlank, ""
	}
	if content, ok := headingContent(line); ok {
		return lineHeading, content
	}
	if content, ok := bulletContent(line); ok {
		return lineBullet, content
	}
	if content, ok := numberedContent(line); ok {
		return lineNumbered, content
	}
	return linePlain, line
}

func headingContent(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 {
		return "", false
	}
	rest := line[i:]
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func bulletContent(line string) (string, bool) {
	marker, size := utf8.DecodeRuneInString(line)
	if marker != '-' && marker != '•' && marker != '*' {
		return "", false
	}
	rest := line[size:]
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func numberedContent(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return "", false
	}
	if line[i] != '.' && line[i] != ')' {
		return "", false
	}
	rest := line[i+1:]
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// splitSentences breaks a chunk at sentence-ending punctuation followed
// by whitespace and an upper-case letter. The punctuation stays with
// the left piece; the separating whitespace is dropped.
func splitSentences(text string) []string {
	runes := []rune(text)
	var parts []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}
		parts = append(parts, string(runes[start:i+1]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
