package compiler

import "strings"

// Decision is what a pass's output tells us to do next. It is derived solely
// from the text it was computed from; there is no hidden state.
type Decision struct {
	NeedsBibliography bool
	NeedsRerun        bool
}

// bibliographyMarkers are the case-sensitive substrings that indicate
// unresolved citations. "Citation"/"undefined" is handled separately since
// the two halves appear on pdflatex warning lines independently.
var bibliographyMarkers = []string{
	"There were undefined references",
	"Please (re)run BibTeX on the file",
	"Please (re)run Biber on the file",
}

// rerunMarkers are the case-sensitive substrings that indicate the engine
// wants another pass.
var rerunMarkers = []string{
	"Rerun to get cross-references right",
	"Label(s) may have changed",
	"Table widths have changed",
	"Rerun LaTeX",
	"No file main.aux.",
	"No file main.toc.",
}

// Analyze maps a pass's combined output to a Decision. Pure function: same
// input always yields the same output, no side effects.
func Analyze(logText string) Decision {
	d := Decision{}

	if strings.Contains(logText, "Citation") && strings.Contains(logText, "undefined") {
		d.NeedsBibliography = true
	}
	for _, marker := range bibliographyMarkers {
		if strings.Contains(logText, marker) {
			d.NeedsBibliography = true
			break
		}
	}

	for _, marker := range rerunMarkers {
		if strings.Contains(logText, marker) {
			d.NeedsRerun = true
			break
		}
	}

	return d
}
