// Package types holds the domain records shared by every lmsrun package:
// courses, activities and their classification.
package types

import (
	"net/url"
	"strings"
)

// ActivityType is the module kind of an activity, taken from its URL path.
type ActivityType string

const (
	ActivityPage    ActivityType = "page"    // Static content page
	ActivityURL     ActivityType = "url"     // External link wrapper
	ActivityForum   ActivityType = "forum"   // Discussion forum
	ActivityBook    ActivityType = "book"    // Multi-chapter book
	ActivityQuiz    ActivityType = "quiz"    // Graded quiz (manual)
	ActivityAssign  ActivityType = "assign"  // Assignment submission (manual)
	ActivityUnknown ActivityType = "unknown" // No pattern matched; handled like a page
)

// Course is a top-level container of activities.
type Course struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Activity is one completable unit inside a course. Activities are rebuilt on
// every course visit; only their outcome is persisted.
type Activity struct {
	URL         string       `json:"url"`
	Name        string       `json:"name"`
	Type        ActivityType `json:"type"`
	ShouldSkip  bool         `json:"should_skip"`
	IsCompleted bool         `json:"is_completed"`
}

// Processable reports whether the activity still needs work.
func (a Activity) Processable() bool {
	return !a.ShouldSkip && !a.IsCompleted
}

// TypePattern maps a URL path fragment to an activity type.
type TypePattern struct {
	Fragment string
	Type     ActivityType
}

// DefaultTypePatterns is the ordered classification table. First match wins.
var DefaultTypePatterns = []TypePattern{
	{Fragment: "/mod/page/", Type: ActivityPage},
	{Fragment: "/mod/url/", Type: ActivityURL},
	{Fragment: "/mod/quiz/", Type: ActivityQuiz},
	{Fragment: "/mod/assign/", Type: ActivityAssign},
	{Fragment: "/mod/forum/", Type: ActivityForum},
	{Fragment: "/mod/book/", Type: ActivityBook},
}

// DefaultSkipPatterns marks activities that need a human.
var DefaultSkipPatterns = []string{"/mod/quiz/", "/mod/assign/"}

// Classifier assigns types and skip flags to activity URLs.
type Classifier struct {
	TypePatterns []TypePattern
	SkipPatterns []string
}

// NewClassifier builds a classifier. Nil arguments fall back to the defaults.
func NewClassifier(typePatterns []TypePattern, skipPatterns []string) *Classifier {
	if typePatterns == nil {
		typePatterns = DefaultTypePatterns
	}
	if skipPatterns == nil {
		skipPatterns = DefaultSkipPatterns
	}
	return &Classifier{TypePatterns: typePatterns, SkipPatterns: skipPatterns}
}

// Type returns the activity type for href.
func (c *Classifier) Type(href string) ActivityType {
	for _, p := range c.TypePatterns {
		if strings.Contains(href, p.Fragment) {
			return p.Type
		}
	}
	return ActivityUnknown
}

// ShouldSkip reports whether href matches any skip pattern.
func (c *Classifier) ShouldSkip(href string) bool {
	for _, p := range c.SkipPatterns {
		if p != "" && strings.Contains(href, p) {
			return true
		}
	}
	return false
}

// Classify builds an Activity for href. IsCompleted is left for the caller.
func (c *Classifier) Classify(href, name string) Activity {
	return Activity{
		URL:        href,
		Name:       name,
		Type:       c.Type(href),
		ShouldSkip: c.ShouldSkip(href),
	}
}

// CourseIDFromURL extracts the id query parameter from a course URL.
// Returns "" when the URL has none.
func CourseIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
	}
	// Fall back to plain splitting for malformed URLs.
	_, after, ok := strings.Cut(raw, "id=")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(after, "&")
	return id
}

// ResolveURL makes href absolute against base. Absolute hrefs pass through.
func ResolveURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return strings.TrimRight(base, "/") + href
	}
	return b.ResolveReference(ref).String()
}
