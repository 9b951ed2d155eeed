package synth

import (
	"regexp"
	"strings"
)

// Words-per-minute rate used when a backend cannot report real durations.
const speechWordsPerMinute = 150.0

var (
	sentencePattern   = regexp.MustCompile(`[^.!?]+[.!?]+\s*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// normalizeText collapses whitespace and smooths typographic punctuation that
// trips up synthesis backends.
func normalizeText(text string) string {
	replacer := strings.NewReplacer(
		"\r\n", " ",
		"\n", " ",
		"\t", " ",
		"—", ", ", // em dash
		"–", ", ", // en dash
		"…", "...", // ellipsis
	)

	normalized := replacer.Replace(text)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

// splitChunks breaks text into synthesis-sized pieces on sentence boundaries.
// A sentence longer than maxChars becomes its own oversized chunk rather than
// being split mid-sentence.
func splitChunks(text string, maxChars int) []string {
	text = normalizeText(text)
	if text == "" {
		return nil
	}

	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	} else if consumed := len(strings.Join(sentences, "")); consumed < len(text) {
		// Trailing text without sentence-ending punctuation.
		sentences = append(sentences, text[consumed:])
	}

	var (
		chunks  []string
		current strings.Builder
	)

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) > maxChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		current.WriteString(sentence)
	}

	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		chunks = append(chunks, trimmed)
	}

	return chunks
}

// estimateDuration approximates play time in seconds from word count and
// playback speed, for backends that return formats without a parseable header.
func estimateDuration(text string, speed float64) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}

	if speed <= 0 {
		speed = 1.0
	}

	return float64(words) / speechWordsPerMinute * 60.0 / speed
}
