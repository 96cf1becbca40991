// Package ledger is the durable per-course progress record. It is the only
// source of truth for resume decisions: every mutation is written through to
// disk before the call returns.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lmsrun/internal/logging"
)

// ErrCorrupt is returned by Open when the ledger file exists but cannot be
// read or parsed and the corrupt policy is PolicyFail.
var ErrCorrupt = errors.New("ledger file is corrupt")

// CorruptPolicy decides what Open does with an unparsable ledger.
type CorruptPolicy string

const (
	PolicyFail  CorruptPolicy = "fail"  // Abort startup
	PolicyReset CorruptPolicy = "reset" // Move the file aside and start empty
)

// Status is the lifecycle state of a course.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Failure records one exhausted activity.
type Failure struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CourseProgress is the persisted state of one course.
type CourseProgress struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	CompletedActivities []string  `json:"completed_activities"`
	FailedActivities    []Failure `json:"failed_activities"`
	TotalActivities     int       `json:"total_activities"`
	SkippedActivities   int       `json:"skipped_activities"`
	LastActivityIndex   int       `json:"last_activity_index"`
}

// Percent returns completed/total*100 clamped to [0,100]; 0 when total is 0.
func (cp CourseProgress) Percent() float64 {
	if cp.TotalActivities <= 0 {
		return 0
	}
	pct := float64(len(cp.CompletedActivities)) / float64(cp.TotalActivities) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// GlobalStats is derived from the course records on every save.
type GlobalStats struct {
	TotalCompleted int `json:"total_completed"`
	TotalSkipped   int `json:"total_skipped"`
	TotalFailed    int `json:"total_failed"`
}

// Document is the on-disk ledger.
type Document struct {
	LastRun     *time.Time                 `json:"last_run"`
	Courses     map[string]*CourseProgress `json:"courses"`
	GlobalStats GlobalStats                `json:"global_stats"`
}

func emptyDocument() *Document {
	return &Document{Courses: make(map[string]*CourseProgress)}
}

func newCourse() *CourseProgress {
	return &CourseProgress{
		Status:              StatusNotStarted,
		CompletedActivities: []string{},
		FailedActivities:    []Failure{},
	}
}

// Store guards the ledger document and persists it on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
	doc  *Document
	err  error // sticky write failure

	now func() time.Time
}

// Open loads the ledger at path. A missing or empty file yields an empty
// ledger. An unparsable file is handled according to policy.
func Open(path string, policy CorruptPolicy) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	doc, err := readDocument(path)
	switch {
	case err == nil:
		s.doc = doc
	case errors.Is(err, ErrCorrupt) && policy == PolicyReset:
		aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102_150405"))
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("failed to move corrupt ledger aside: %w", rerr)
		}
		logging.Get(logging.CategoryLedger).Warn("Corrupt ledger moved to %s, starting empty: %v", aside, err)
		s.doc = emptyDocument()
	default:
		return nil, err
	}

	logging.Ledger("Ledger opened: %s (%d courses)", path, len(s.doc.Courses))
	return s, nil
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(data) == 0 {
		return emptyDocument(), nil
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if doc.Courses == nil {
		doc.Courses = make(map[string]*CourseProgress)
	}
	for _, cp := range doc.Courses {
		if cp.CompletedActivities == nil {
			cp.CompletedActivities = []string{}
		}
		if cp.FailedActivities == nil {
			cp.FailedActivities = []Failure{}
		}
		if cp.Status == "" {
			cp.Status = StatusNotStarted
		}
	}
	return doc, nil
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// Err returns the first write failure, if any. Once set it never clears.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// courseLocked returns the record for courseID, creating it if absent.
func (s *Store) courseLocked(courseID string) *CourseProgress {
	cp, ok := s.doc.Courses[courseID]
	if !ok {
		cp = newCourse()
		s.doc.Courses[courseID] = cp
	}
	return cp
}

// Get returns a copy of the course record. Absent courses get a default
// record, which is kept in memory but not written until the next mutation.
func (s *Store) Get(courseID string) CourseProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCourse(s.courseLocked(courseID))
}

// Courses returns a copy of every course record keyed by id.
func (s *Store) Courses() map[string]CourseProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CourseProgress, len(s.doc.Courses))
	for id, cp := range s.doc.Courses {
		out[id] = cloneCourse(cp)
	}
	return out
}

// Snapshot returns a copy of the aggregate stats and the last save time.
func (s *Store) Snapshot() (GlobalStats, *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.GlobalStats, s.doc.LastRun
}

func cloneCourse(cp *CourseProgress) CourseProgress {
	c := *cp
	c.CompletedActivities = append([]string{}, cp.CompletedActivities...)
	c.FailedActivities = append([]Failure{}, cp.FailedActivities...)
	return c
}

// IsCompleted reports whether url is in the course's completed set.
func (s *Store) IsCompleted(courseID, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.doc.Courses[courseID]
	if !ok {
		return false
	}
	for _, u := range cp.CompletedActivities {
		if u == url {
			return true
		}
	}
	return false
}

// CompletionPercent returns the course completion in [0,100].
func (s *Store) CompletionPercent(courseID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.doc.Courses[courseID]
	if !ok {
		return 0
	}
	return cp.Percent()
}

// MarkCompleted adds url to the course's completed set and persists.
// Re-marking a completed url changes nothing but last_run.
func (s *Store) MarkCompleted(courseID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.courseLocked(courseID)
	found := false
	for _, u := range cp.CompletedActivities {
		if u == url {
			found = true
			break
		}
	}
	if !found {
		cp.CompletedActivities = append(cp.CompletedActivities, url)
	}
	return s.saveLocked()
}

// MarkFailed appends a failure record for url and persists.
func (s *Store) MarkFailed(courseID, url string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	cp := s.courseLocked(courseID)
	cp.FailedActivities = append(cp.FailedActivities, Failure{
		URL:       url,
		Error:     msg,
		Timestamp: s.now(),
	})
	return s.saveLocked()
}

// UpdateCourse records the latest discovery result for a course and persists.
func (s *Store) UpdateCourse(courseID, name string, total, skipped int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.courseLocked(courseID)
	if name != "" {
		cp.Name = name
	}
	cp.TotalActivities = total
	cp.SkippedActivities = skipped
	return s.saveLocked()
}

// SetStatus sets the course status and persists.
func (s *Store) SetStatus(courseID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.courseLocked(courseID).Status = status
	return s.saveLocked()
}

// Save persists the current document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked recomputes global stats and atomically replaces the ledger file
// (must hold lock).
func (s *Store) saveLocked() error {
	if s.err != nil {
		return s.err
	}

	now := s.now()
	s.doc.LastRun = &now
	s.doc.GlobalStats = computeGlobalStats(s.doc.Courses)

	if err := writeAtomic(s.path, s.doc); err != nil {
		s.err = fmt.Errorf("failed to persist ledger: %w", err)
		logging.Get(logging.CategoryLedger).Error("%v", s.err)
		return s.err
	}
	logging.LedgerDebug("Ledger saved: completed=%d failed=%d",
		s.doc.GlobalStats.TotalCompleted, s.doc.GlobalStats.TotalFailed)
	return nil
}

func computeGlobalStats(courses map[string]*CourseProgress) GlobalStats {
	var gs GlobalStats
	for _, cp := range courses {
		gs.TotalCompleted += len(cp.CompletedActivities)
		gs.TotalSkipped += cp.SkippedActivities
		gs.TotalFailed += len(cp.FailedActivities)
	}
	return gs
}

func writeAtomic(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
