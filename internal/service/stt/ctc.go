package stt

import (
	"fmt"
	"strings"
)

// GreedyDecode performs best-path CTC decoding: arg-max per frame, collapse
// consecutive repeats, then drop blanks and special tokens. The word
// delimiter becomes a space and runs of whitespace are folded.
func GreedyDecode(logits Logits, vocab *Vocabulary) (string, error) {
	var b strings.Builder
	prev := -1
	for i, frame := range logits {
		if len(frame) != vocab.Size() {
			return "", fmt.Errorf("frame %d has %d scores, vocabulary has %d tokens", i, len(frame), vocab.Size())
		}
		best := argmax(frame)
		if best == prev {
			continue
		}
		prev = best
		if vocab.special[best] {
			continue
		}
		tok := vocab.tokens[best]
		if tok == TokenWordDelimiter {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(tok)
	}
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
