package relay

import "strings"

// sentenceTerminators end an utterance for routing purposes.
const sentenceTerminators = ".?!\n"

// Aggregator accumulates streamed text tokens into complete sentences. The
// speech backend emits word-level fragments; routing decisions need whole
// utterances.
//
// Aggregator is not safe for concurrent use; each session owns one and feeds
// it from its outbound loop only.
type Aggregator struct {
	buf strings.Builder
}

// Push appends one token. When the token ends with a sentence terminator
// (ignoring trailing whitespace) the accumulated sentence is returned with
// done=true and the buffer resets; otherwise sentence is empty.
func (a *Aggregator) Push(token string) (sentence string, done bool) {
	a.buf.WriteString(token)

	trimmed := strings.TrimRight(token, " \t")
	if trimmed == "" || !strings.ContainsRune(sentenceTerminators, rune(trimmed[len(trimmed)-1])) {
		return "", false
	}

	sentence = strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if sentence == "" {
		return "", false
	}
	return sentence, true
}

// Pending returns the text accumulated since the last completed sentence.
func (a *Aggregator) Pending() string {
	return a.buf.String()
}

// Reset discards any buffered text.
func (a *Aggregator) Reset() {
	a.buf.Reset()
}
