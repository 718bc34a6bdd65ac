// Package attendance implements the lecturer-side session state machine:
// start a session for a (course, hall), consume card events while active,
// write at most one record per student and day, and keep a running summary.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"campuscard/internal/directory"
	"campuscard/internal/logging"
)

// State is the session lifecycle. Card events are only meaningful in
// StateActive; anything else is a non-event by construction.
type State string

const (
	StateNotStarted State = "not-started"
	StateActive     State = "active"
	StateStopped    State = "stopped"
)

// Outcome classifies one swipe.
type Outcome string

const (
	OutcomeRecorded        Outcome = "recorded"
	OutcomeAlreadyRecorded Outcome = "already-recorded"
	OutcomeNotEnrolled     Outcome = "not-enrolled"
	OutcomeUnknownCard     Outcome = "unknown-card"
	OutcomeReadFailed      Outcome = "read-failed"
)

var (
	ErrSessionExists   = errors.New("attendance: session already active")
	ErrSessionNotFound = errors.New("attendance: session not found")
	ErrMissingCourse   = errors.New("attendance: course and hall are required")
)

// Summary is recomputed after every accepted swipe.
type Summary struct {
	PresentCount  int     `json:"present_count"`
	TotalEnrolled int     `json:"total_enrolled"`
	Percentage    float64 `json:"percentage"`
}

// SwipeResult is what one card presentation produced, shaped for the UI.
type SwipeResult struct {
	SessionID string             `json:"session_id"`
	Outcome   Outcome            `json:"outcome"`
	Student   *directory.Student `json:"student,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Summary   Summary            `json:"summary"`
}

// Session owns one class period. All swipe handling is serialised by the
// mutex, so a second tap cannot interleave with the check-then-insert of
// the first.
type Session struct {
	ID         string
	LecturerID string
	CourseID   string
	Hall       string
	StartedAt  time.Time

	mu            sync.Mutex
	state         State
	present       map[string]struct{}
	totalEnrolled int
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) snapshotSummaryLocked() Summary {
	sum := Summary{PresentCount: len(s.present), TotalEnrolled: s.totalEnrolled}
	if s.totalEnrolled > 0 {
		sum.Percentage = float64(len(s.present)) / float64(s.totalEnrolled) * 100
	}
	return sum
}

// Summary returns the current counters.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotSummaryLocked()
}

// Service runs attendance sessions against the directory and the record
// store. One Service instance serves every lecturer.
type Service struct {
	log      logging.Logger
	repo     *Repository
	students *directory.Repository

	mu       sync.Mutex
	sessions map[string]*Session // keyed by session id
}

func NewService(log logging.Logger, repo *Repository, students *directory.Repository) *Service {
	return &Service{
		log:      log.With("module", "attendance"),
		repo:     repo,
		students: students,
		sessions: make(map[string]*Session),
	}
}

// Start opens a session for (lecturer, course, hall). A lecturer can run
// only one session per course and hall at a time.
func (s *Service) Start(ctx context.Context, sessionID, lecturerID, courseID, hall string) (*Session, error) {
	if courseID == "" || hall == "" {
		return nil, ErrMissingCourse
	}

	total, err := s.students.EnrolledCount(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("enrolled count: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.LecturerID == lecturerID && existing.CourseID == courseID && existing.Hall == hall {
			return nil, ErrSessionExists
		}
	}

	sess := &Session{
		ID:            sessionID,
		LecturerID:    lecturerID,
		CourseID:      courseID,
		Hall:          hall,
		StartedAt:     time.Now().UTC(),
		state:         StateActive,
		present:       make(map[string]struct{}),
		totalEnrolled: total,
	}
	s.sessions[sessionID] = sess
	s.log.Info(ctx, "session started", "session", sessionID, "course", courseID, "hall", hall, "enrolled", total)
	return sess, nil
}

// Stop ends a session and discards its in-memory state. Already-written
// records stay.
func (s *Service) Stop(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	sess.state = StateStopped
	sess.mu.Unlock()
	s.log.Info(ctx, "session stopped", "session", sessionID)
	return nil
}

// Get returns an active session.
func (s *Service) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// HandleCard feeds one card-present event to every active session and
// returns the per-session results. Payload nil means the bridge could not
// read the sector; the lecturer is told to ask for a retap.
func (s *Service) HandleCard(ctx context.Context, payload *string) []SwipeResult {
	s.mu.Lock()
	active := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active = append(active, sess)
	}
	s.mu.Unlock()

	var results []SwipeResult
	for _, sess := range active {
		results = append(results, s.swipe(ctx, sess, payload))
	}
	return results
}

func (s *Service) swipe(ctx context.Context, sess *Session, payload *string) SwipeResult {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	res := SwipeResult{SessionID: sess.ID, Summary: sess.snapshotSummaryLocked()}
	if sess.state != StateActive {
		res.Outcome = OutcomeReadFailed
		res.Detail = "session is not active"
		return res
	}

	if payload == nil || *payload == "" {
		res.Outcome = OutcomeReadFailed
		res.Detail = "could not read card, please retap"
		return res
	}

	student, err := s.students.ByRegisterNumber(ctx, *payload)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			res.Outcome = OutcomeUnknownCard
			res.Detail = fmt.Sprintf("no student with register number %s", *payload)
			return res
		}
		res.Outcome = OutcomeReadFailed
		res.Detail = err.Error()
		return res
	}
	res.Student = student

	enrolled, err := s.students.IsEnrolled(ctx, student.ID, sess.CourseID)
	if err != nil {
		res.Outcome = OutcomeReadFailed
		res.Detail = err.Error()
		return res
	}
	if !enrolled {
		res.Outcome = OutcomeNotEnrolled
		res.Detail = fmt.Sprintf("%s is not enrolled in %s", student.RegisterNumber, sess.CourseID)
		return res
	}

	// Session-scoped dedup first, then the cross-session daily check.
	if _, seen := sess.present[student.ID]; seen {
		res.Outcome = OutcomeAlreadyRecorded
		res.Detail = "already recorded in this session"
		return res
	}

	today := time.Now().UTC()
	exists, err := s.repo.Exists(ctx, student.ID, sess.CourseID, today)
	if err != nil {
		res.Outcome = OutcomeReadFailed
		res.Detail = err.Error()
		return res
	}
	if exists {
		res.Outcome = OutcomeAlreadyRecorded
		res.Detail = "attendance already recorded today"
		return res
	}

	if _, err := s.repo.Insert(ctx, Record{
		StudentID:  student.ID,
		CourseID:   sess.CourseID,
		LecturerID: sess.LecturerID,
		Date:       today,
	}); err != nil {
		res.Outcome = OutcomeReadFailed
		res.Detail = err.Error()
		return res
	}

	sess.present[student.ID] = struct{}{}
	res.Outcome = OutcomeRecorded
	res.Summary = sess.snapshotSummaryLocked()
	s.log.Info(ctx, "attendance recorded", "session", sess.ID, "student", student.RegisterNumber,
		"present", res.Summary.PresentCount, "enrolled", res.Summary.TotalEnrolled)
	return res
}
