package domain

import "time"

// MaxErrorMessageLen bounds the diagnostic stored on a failed job.
const MaxErrorMessageLen = 500

type Status string

const (
	Pending     Status = "Pending"
	Downloading Status = "Downloading"
	Completed   Status = "Completed"
	Failed      Status = "Failed"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether next is a legal successor of s.
// The lifecycle is strictly monotonic: Pending -> Downloading -> {Completed|Failed}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Pending:
		return next == Downloading || next == Failed
	case Downloading:
		return next == Completed || next == Failed
	default:
		return false
	}
}

// Job is the source-of-truth record for one fetch request.
type Job struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Status       Status    `json:"status"`
	ArtifactName string    `json:"artifact_name,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransitionFields carries the status-specific columns written together
// with a status change. ArtifactName is only honored on the transition to
// Completed, ErrorMessage only on the transition to Failed.
type TransitionFields struct {
	ArtifactName string
	ErrorMessage string
}

// TruncateError clamps a diagnostic to MaxErrorMessageLen. Multi-line
// diagnostics beyond the bound are reduced to their last line, which for
// tool stderr is the most specific part.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	if i := lastLineStart(msg); i > 0 && len(msg)-i <= MaxErrorMessageLen {
		return msg[i:]
	}
	return msg[:MaxErrorMessageLen]
}

func lastLineStart(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' && i+1 < len(s) {
			return i + 1
		}
	}
	return 0
}
