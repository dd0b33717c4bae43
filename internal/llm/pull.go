package llm

import (
	"strconv"
	"strings"
)

// Phase is a stage of a model download.
type Phase string

const (
	PhaseManifest    Phase = "manifest"
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
	PhaseWriting     Phase = "writing"
	PhaseSuccess     Phase = "success"
	PhaseUnknown     Phase = "unknown"
)

// Progress is a typed model-download progress value. Percent is nil when the
// phase carries no measurable progress.
type Progress struct {
	Phase   Phase    `json:"phase"`
	Percent *float64 `json:"percent,omitempty"`
	Message string   `json:"message"`
}

// PullStatus is one JSON line of Ollama's /api/pull stream.
type PullStatus struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Progress converts the status line using the same grammar as ParseProgressLine,
// computing the percentage from the byte counters when they are present.
func (s PullStatus) Progress() Progress {
	p := ParseProgressLine(s.Status)
	if p.Phase == PhaseDownloading && s.Total > 0 {
		pct := float64(s.Completed) / float64(s.Total) * 100
		p.Percent = &pct
	}
	return p
}

// ParseProgressLine parses one line of `ollama pull` output.
//
// Grammar (first token decides, case-insensitive):
//
//	"pulling manifest"                 -> manifest
//	"pulling <digest> ... <n>% ..."    -> downloading (percent from the first N% token)
//	"downloading ..."                  -> downloading
//	"verifying sha256 digest"          -> verifying
//	"writing manifest"                 -> writing
//	"success"                          -> success (100%)
//
// Anything else is PhaseUnknown with the trimmed line as its message.
func ParseProgressLine(line string) Progress {
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(strings.ToLower(trimmed))
	if len(fields) == 0 {
		return Progress{Phase: PhaseUnknown}
	}

	switch fields[0] {
	case "pulling":
		if len(fields) > 1 && fields[1] == "manifest" {
			return Progress{Phase: PhaseManifest, Message: "Downloading manifest..."}
		}
		return Progress{Phase: PhaseDownloading, Percent: percentToken(fields), Message: "Downloading layers..."}
	case "downloading":
		return Progress{Phase: PhaseDownloading, Percent: percentToken(fields), Message: "Downloading layers..."}
	case "verifying":
		return Progress{Phase: PhaseVerifying, Message: "Verifying..."}
	case "writing":
		return Progress{Phase: PhaseWriting, Message: "Writing manifest..."}
	case "success":
		full := 100.0
		return Progress{Phase: PhaseSuccess, Percent: &full, Message: "Success!"}
	}
	return Progress{Phase: PhaseUnknown, Message: trimmed}
}

// percentToken returns the value of the first "NN%" or "NN.N%" field.
func percentToken(fields []string) *float64 {
	for _, f := range fields {
		if !strings.HasSuffix(f, "%") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}
