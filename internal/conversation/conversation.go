// Package conversation rebuilds a speaker timeline from diarized word
// offsets and derives timing metrics from it.
package conversation

import (
	"fmt"
	"strings"
)

// Word is one diarized word as returned by the transcription provider.
// Start and End are seconds from the beginning of the recording.
type Word struct {
	Word    string  `json:"word"`
	Speaker int     `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Utterance is a run of consecutive words by one speaker.
type Utterance struct {
	Speaker int
	Text    string
	Start   float64
	End     float64
}

// Utterances groups consecutive words of the same speaker.
func Utterances(words []Word) []Utterance {
	var (
		out  []Utterance
		cur  *Utterance
		text []string
	)
	for _, w := range words {
		if cur != nil && w.Speaker == cur.Speaker {
			text = append(text, w.Word)
			cur.End = w.End
			continue
		}
		if cur != nil {
			cur.Text = strings.Join(text, " ")
			out = append(out, *cur)
		}
		cur = &Utterance{Speaker: w.Speaker, Start: w.Start, End: w.End}
		text = []string{w.Word}
	}
	if cur != nil {
		cur.Text = strings.Join(text, " ")
		out = append(out, *cur)
	}
	return out
}

// Chat renders the words as a speaker-labelled dialogue, one line per turn.
func Chat(words []Word) string {
	var b strings.Builder
	for i, u := range Utterances(words) {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Speaker %d: %s", u.Speaker, u.Text)
	}
	return b.String()
}

// AnswerDelay sums, over every customer-to-operator turn change, the gap
// between the end of the customer's utterance and the start of the operator's
// reply.
func AnswerDelay(us []Utterance, operator, customer int) float64 {
	var (
		total        float64
		lastCustomer *float64
	)
	for _, u := range us {
		switch {
		case u.Speaker == customer:
			end := u.End
			lastCustomer = &end
		case u.Speaker == operator && lastCustomer != nil:
			total += u.Start - *lastCustomer
			lastCustomer = nil
		}
	}
	return total
}

// SpeechDuration is the total talk time of speaker.
func SpeechDuration(us []Utterance, speaker int) float64 {
	var total float64
	for _, u := range us {
		if u.Speaker == speaker {
			total += u.End - u.Start
		}
	}
	return total
}
