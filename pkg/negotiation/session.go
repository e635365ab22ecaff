package negotiation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

const (
	SpeakerUser1 = "user1"
	SpeakerUser2 = "user2"
)

const (
	// PerSpeakerQuota is the fixed message budget each party gets.
	PerSpeakerQuota = 5
	TotalQuota      = 2 * PerSpeakerQuota
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var ErrInvalidSpeaker = errors.New("speaker must be either 'user1' or 'user2'")

// QuotaError reports that the named speaker exhausted its budget.
type QuotaError struct {
	Speaker string
}

func (e *QuotaError) Error() string {
	label := "User1"
	if e.Speaker == SpeakerUser2 {
		label = "User2"
	}
	return fmt.Sprintf("%s has already sent %d messages", label, PerSpeakerQuota)
}

// ValidSpeaker reports whether s is one of the two recognized identities.
func ValidSpeaker(s string) bool {
	return s == SpeakerUser1 || s == SpeakerUser2
}

func IsTerminal(status string) bool {
	return status == StatusCompleted
}

// Message is a single negotiation utterance. Immutable once appended.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"message"`
}

// Session tracks one negotiation. All mutation goes through Append so the
// count/transcript invariant holds under concurrent callers.
type Session struct {
	mu         sync.Mutex
	id         string
	messages   []Message
	user1Count int
	user2Count int
	verdict    *verdict.Result
	createdAt  time.Time
	lastActive time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, createdAt: now, lastActive: now}
}

func (s *Session) ID() string { return s.id }

// Progress is the outcome of a successful Append.
type Progress struct {
	Status     string
	Total      int
	User1      int
	User2      int
	Remaining  int
	Completed  bool
	Transcript []Message // populated only on the completing append
}

// Append validates the speaker and its quota, then records the message.
// The quota check and increment happen under one lock so two concurrent
// requests from the same speaker cannot both pass at count 4.
func (s *Session) Append(speaker, text string) (Progress, error) {
	speaker = strings.TrimSpace(speaker)
	if !ValidSpeaker(speaker) {
		return Progress{}, ErrInvalidSpeaker
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := &s.user1Count
	if speaker == SpeakerUser2 {
		count = &s.user2Count
	}
	if *count >= PerSpeakerQuota {
		return Progress{}, &QuotaError{Speaker: speaker}
	}
	s.messages = append(s.messages, Message{Speaker: speaker, Text: text})
	*count++
	s.lastActive = time.Now()

	total := s.user1Count + s.user2Count
	p := Progress{
		Status:    StatusInProgress,
		Total:     total,
		User1:     s.user1Count,
		User2:     s.user2Count,
		Remaining: TotalQuota - total,
	}
	if total == TotalQuota {
		p.Status = StatusCompleted
		p.Completed = true
		p.Transcript = append([]Message(nil), s.messages...)
	}
	return p, nil
}

// AttachVerdict caches the synthesized verdict. The first write wins; a
// terminal session never re-invokes the oracle once a verdict is stored.
func (s *Session) AttachVerdict(v verdict.Result) {
	s.mu.Lock()
	if s.verdict == nil {
		s.verdict = &v
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// View is a consistent read-only copy of session state.
type View struct {
	ID        string
	Status    string
	Messages  []Message
	User1     int
	User2     int
	Total     int
	Remaining int
	Verdict   *verdict.Result
}

// Snapshot returns a copy of the transcript and counters taken under the
// session lock.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.user1Count + s.user2Count
	v := View{
		ID:        s.id,
		Status:    StatusInProgress,
		Messages:  append([]Message(nil), s.messages...),
		User1:     s.user1Count,
		User2:     s.user2Count,
		Total:     total,
		Remaining: TotalQuota - total,
	}
	if v.Remaining < 0 {
		v.Remaining = 0
	}
	if total == TotalQuota {
		v.Status = StatusCompleted
	}
	if s.verdict != nil {
		res := *s.verdict
		v.Verdict = &res
	}
	return v
}

func (s *Session) lastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user1Count+s.user2Count == TotalQuota
}
