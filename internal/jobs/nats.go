package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/MikeSquared-Agency/mentor/internal/hermes"
	"github.com/MikeSquared-Agency/mentor/internal/transcript"
)

// HandleTranscriptSubmitted is the NATS handler for
// lessons.transcript.submitted. Invalid requests are logged and dropped.
func (q *Queue) HandleTranscriptSubmitted(subject string, data []byte) {
	var evt hermes.TranscriptSubmitted
	if err := json.Unmarshal(data, &evt); err != nil {
		q.logger.Error("failed to parse transcript submission", "subject", subject, "error", err)
		return
	}
	if evt.Path == "" {
		q.logger.Warn("transcript submission without path", "subject", subject)
		return
	}

	name := evt.Filename
	if name == "" {
		name = filepath.Base(evt.Path)
	}
	if !transcript.Supported(evt.Path) {
		q.logger.Warn("unsupported transcript submitted", "path", evt.Path)
		return
	}
	if _, err := os.Stat(evt.Path); err != nil {
		q.logger.Warn("submitted transcript not readable", "path", evt.Path, "error", err)
		return
	}

	q.Submit(NewID(), name, evt.Path)
}
