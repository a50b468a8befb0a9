package speechkit

import "github.com/harunnryd/speechjob/pkg/transcript"

// ExtractTranscript turns a finished operation into a transcript with one
// line per alternative, chunks and alternatives in arrival order. It returns
// false while the operation is still running.
func ExtractTranscript(status OperationStatus) (transcript.Transcript, bool) {
	if !status.Done {
		return transcript.Transcript{}, false
	}
	var lines []string
	for _, chunk := range status.Chunks {
		for _, alt := range chunk.Alternatives {
			lines = append(lines, alt.Text)
		}
	}
	return transcript.Transcript{Lines: lines}, true
}
