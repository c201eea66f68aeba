// Package classify reconciles marker presence in generated text with the
// termination reason the service reported, and tallies the outcomes of a run.
package classify

import (
	"strings"

	"github.com/signalnine/stopprobe/internal/result"
)

// StopSequenceReason is the stop_reason the service reports when generation
// ended on one of the request's stop sequences.
const StopSequenceReason = "stop_sequence"

// Classifier judges a single trial. Matching is a case-sensitive substring
// search for Marker; the first occurrence is used for trailing text.
type Classifier struct {
	Marker      string
	MarkerLabel string
}

func New(marker string) Classifier {
	return Classifier{Marker: marker, MarkerLabel: StopSequenceReason}
}

// Classify is pure in (text, reason). Rules apply in order, first match wins.
func (c Classifier) Classify(text, reason string) result.Outcome {
	honored := reason == c.MarkerLabel
	switch {
	case !honored && c.Marker != "" && strings.Contains(text, c.Marker):
		return result.OutcomeMarkerMismatch
	case honored:
		return result.OutcomeMarkerHonored
	default:
		return result.OutcomeNoMarker
	}
}

// TrailingText returns what follows the first occurrence of the marker, or
// "" when the marker is absent.
func (c Classifier) TrailingText(text string) string {
	if c.Marker == "" {
		return ""
	}
	_, after, found := strings.Cut(text, c.Marker)
	if !found {
		return ""
	}
	return after
}
