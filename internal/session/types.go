package session

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrInvalidState    = errors.New("invalid session state")
	ErrPersistence     = errors.New("session store unavailable")
)

type Status string

const (
	StatusAwaitingFirstTurn Status = "awaiting_first_turn"
	StatusActive            Status = "active"
	StatusCompleted         Status = "completed"
)

type Speaker string

const (
	SpeakerSystem      Speaker = "system"
	SpeakerCandidate   Speaker = "candidate"
	SpeakerInterviewer Speaker = "interviewer"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty maps a model-provided token onto a known level.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"'*.`)) {
	case "easy":
		return DifficultyEasy, true
	case "medium":
		return DifficultyMedium, true
	case "hard":
		return DifficultyHard, true
	default:
		return "", false
	}
}

// Utterance is one entry in the append-only transcript.
type Utterance struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Seed      bool      `json:"seed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the durable conversation state of one interview.
type Session struct {
	ID             string      `json:"session_id"`
	OwnerID        string      `json:"owner_id"`
	JobDescription string      `json:"job_description"`
	ResumeText     string      `json:"resume_text"`
	Transcript     []Utterance `json:"transcript"`
	Difficulty     Difficulty  `json:"difficulty"`
	Critique       string      `json:"-"`
	TurnCount      int         `json:"turn_count"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TurnCommit is one exchange, written to the store as a single unit.
type TurnCommit struct {
	// Candidate is nil for the opening greeting.
	Candidate *Utterance
	// Difficulty and Critique replace the control state when Difficulty is set.
	Difficulty  Difficulty
	Critique    string
	Interviewer Utterance
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	Status    Status    `json:"status"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VisibleTranscript returns the candidate-facing view: system and seed
// utterances stay in the log but are never rendered.
func (s Session) VisibleTranscript() []Utterance {
	out := make([]Utterance, 0, len(s.Transcript))
	for _, u := range s.Transcript {
		if u.Speaker == SpeakerSystem || u.Seed {
			continue
		}
		out = append(out, u)
	}
	return out
}

// OnlySeed reports whether nothing but the synthetic trigger has been said.
func (s Session) OnlySeed() bool {
	for _, u := range s.Transcript {
		if u.Speaker == SpeakerSystem || u.Seed {
			continue
		}
		return false
	}
	return true
}

// LastCandidate returns the most recent candidate utterance, if any.
func (s Session) LastCandidate() (Utterance, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Speaker == SpeakerCandidate {
			return s.Transcript[i], true
		}
	}
	return Utterance{}, false
}

// InterviewerTurns counts committed interviewer utterances.
func (s Session) InterviewerTurns() int {
	n := 0
	for _, u := range s.Transcript {
		if u.Speaker == SpeakerInterviewer {
			n++
		}
	}
	return n
}

func (s Session) Summary() Summary {
	return Summary{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Status:    s.Status,
		TurnCount: s.TurnCount,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Transcript = append([]Utterance(nil), s.Transcript...)
	return &c
}
