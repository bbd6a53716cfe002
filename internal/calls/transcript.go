package calls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Exporter writes finished-call transcripts as plain text files, one
// per call.
type Exporter struct {
	dir string
}

func NewExporter(dir string) (*Exporter, error) {
	if dir == "" {
		dir = "transcriptions"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &Exporter{dir: dir}, nil
}

// Write persists the transcript. The filename carries a prefix of the
// call id; the full id is in the file header.
func (e *Exporter) Write(session *Session, outcome string) error {
	endedAt := time.Now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}

	var body strings.Builder
	fmt.Fprintf(&body, "CALL ID: %s\n", session.CallID)
	fmt.Fprintf(&body, "Phone: %s\n", session.Phone)
	fmt.Fprintf(&body, "Duration: %.2f sec\n", session.Duration().Seconds())
	fmt.Fprintf(&body, "Outcome: %s\n", outcome)
	fmt.Fprintf(&body, "Started: %s\n", session.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&body, "Ended: %s\n", endedAt.Format(time.RFC3339))
	body.WriteString("\nTRANSCRIPTION:\n")
	if len(session.Transcript) == 0 {
		body.WriteString("No transcription\n")
	}
	for _, turn := range session.Transcript {
		fmt.Fprintf(&body, "[%s]: %s\n", turn.Speaker, turn.Text)
	}

	filename := fmt.Sprintf("transcription-%s.txt", shortCallID(session.CallID))
	path := filepath.Join(e.dir, filename)
	if err := os.WriteFile(path, []byte(body.String()), 0o644); err != nil {
		return fmt.Errorf("write transcript %s: %w", filename, err)
	}
	return nil
}

func shortCallID(callID string) string {
	if len(callID) > 12 {
		return callID[:12]
	}
	return callID
}
