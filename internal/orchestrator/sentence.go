package orchestrator

import "strings"

// sentenceBuffer accumulates LLM text deltas and releases complete
// sentences as soon as a sentence-ending boundary is observed, so TTS
// synthesis can begin on the first sentence while the model is still
// generating later ones. Adapted from the teacher's
// pipeline.sentenceBuffer (internal/pipeline/sentence.go).
type sentenceBuffer struct {
	buf strings.Builder
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true, '\n': true}

// Add appends delta and returns any complete sentences now available,
// leaving a trailing partial sentence buffered.
func (b *sentenceBuffer) Add(delta string) []string {
	b.buf.WriteString(delta)
	var out []string
	for {
		s, ok := splitAtSentence(b.buf.String())
		if !ok {
			break
		}
		out = append(out, s)
		rest := b.buf.String()[len(s):]
		b.buf.Reset()
		b.buf.WriteString(rest)
	}
	return out
}

// Flush returns and clears whatever partial sentence remains buffered.
func (b *sentenceBuffer) Flush() string {
	s := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return s
}

// splitAtSentence finds the first sentence-ending boundary in s at a word
// boundary and returns the sentence including its terminator.
func splitAtSentence(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if sentenceEnders[s[i]] && isWordBoundary(s, i) {
			return s[:i+1], true
		}
	}
	return "", false
}

// isWordBoundary avoids splitting on periods inside decimals like "3.14" by
// requiring the terminator not be immediately followed by a digit.
// Abbreviations such as "Dr." are not detected and do split.
func isWordBoundary(s string, i int) bool {
	if i+1 >= len(s) {
		return true
	}
	next := s[i+1]
	return !(next >= '0' && next <= '9')
}
