package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"lmsrun/internal/discovery"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/stats"
	"lmsrun/internal/types"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// MOCK BROWSER
// =============================================================================

type MockBrowser struct {
	mu sync.Mutex

	authed   bool
	authErr  error
	failTabs int // NewTab calls that fail before tabs open normally

	navFail    map[string]int // url -> failures left, -1 fails forever
	elements   map[string][]types.Element
	onNavigate func(url string)

	open      int
	maxOpen   int
	events    []string
	navigated []string
	clicks    int
	captures  []string
}

func NewMockBrowser() *MockBrowser {
	return &MockBrowser{
		authed:   true,
		navFail:  make(map[string]int),
		elements: make(map[string][]types.Element),
	}
}

func (b *MockBrowser) Authenticated(context.Context) (bool, error) { return b.authed, b.authErr }

func (b *MockBrowser) NewTab(context.Context) (types.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failTabs > 0 {
		b.failTabs--
		return nil, errors.New("target closed")
	}
	b.open++
	b.maxOpen = max(b.maxOpen, b.open)
	b.events = append(b.events, "open")
	return &MockTab{b: b}, nil
}

func (b *MockBrowser) navigations(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, u := range b.navigated {
		if u == url {
			n++
		}
	}
	return n
}

type MockTab struct {
	b   *MockBrowser
	url string
}

func (t *MockTab) Navigate(_ context.Context, url string) error {
	if t.b.onNavigate != nil {
		t.b.onNavigate(url)
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.navigated = append(t.b.navigated, url)
	if n := t.b.navFail[url]; n != 0 {
		if n > 0 {
			t.b.navFail[url] = n - 1
		}
		return errors.New("navigation timeout")
	}
	t.url = url
	return nil
}

func (t *MockTab) URL() string { return t.url }

func (t *MockTab) QueryAll(_ context.Context, selector string) ([]types.Element, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return t.b.elements[selector], nil
}

func (t *MockTab) Click(context.Context, types.Element) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.clicks++
	return nil
}

func (t *MockTab) HTML(context.Context) (string, error) { return "", nil }
func (t *MockTab) ScrollToBottom(context.Context) error { return nil }

func (t *MockTab) Capture(_ context.Context, label string) (string, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.captures = append(t.b.captures, label)
	return "/tmp/" + label + ".png", nil
}

func (t *MockTab) Close() error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.open--
	t.b.events = append(t.b.events, "close")
	return nil
}

type MockElement struct {
	attrs map[string]string
}

func (e MockElement) Text(context.Context) (string, error) { return "", nil }

func (e MockElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

// =============================================================================
// MOCK DISCOVERER
// =============================================================================

type MockDiscoverer struct {
	courses     []types.Course
	coursesErr  error
	activities  map[string][]types.Activity
	activityErr map[string]error
	listed      []string
}

func (d *MockDiscoverer) ListCourses(context.Context, types.Tab) ([]types.Course, error) {
	return d.courses, d.coursesErr
}

func (d *MockDiscoverer) ListActivities(ctx context.Context, _ types.Tab, course types.Course, done discovery.CompletionLookup) ([]types.Activity, error) {
	d.listed = append(d.listed, course.ID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.activityErr[course.ID]; err != nil {
		return nil, err
	}
	src := d.activities[course.ID]
	out := make([]types.Activity, len(src))
	copy(out, src)
	for i := range out {
		out[i].IsCompleted = done.IsCompleted(course.ID, out[i].URL)
	}
	return out, nil
}

// =============================================================================
// MOCK HISTORY / LEDGER
// =============================================================================

type MockHistory struct {
	mu   sync.Mutex
	runs []history.Run
}

func (h *MockHistory) Record(_ context.Context, r history.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, r)
	return nil
}

// MockFailures records MarkFailed calls and can report a sticky error.
type MockFailures struct {
	mu     sync.Mutex
	failed []string
	err    error
}

func (f *MockFailures) MarkFailed(_, url string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, url)
	return f.err
}

func (f *MockFailures) Err() error { return f.err }

// =============================================================================
// HELPERS
// =============================================================================

func newLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "progress.json"), ledger.PolicyFail)
	require.NoError(t, err)
	return store
}

func page(id string) types.Activity {
	return types.Activity{URL: "https://lms.example/mod/page/view.php?id=" + id, Name: "Page " + id, Type: types.ActivityPage}
}

func quiz(id string) types.Activity {
	return types.Activity{URL: "https://lms.example/mod/quiz/view.php?id=" + id, Name: "Quiz " + id, Type: types.ActivityQuiz, ShouldSkip: true}
}

func assign(id string) types.Activity {
	return types.Activity{URL: "https://lms.example/mod/assign/view.php?id=" + id, Name: "Essay " + id, Type: types.ActivityAssign, ShouldSkip: true}
}

func course(id, name string) types.Course {
	return types.Course{ID: id, Name: name, URL: "https://lms.example/course/view.php?id=" + id}
}

func newScheduler(b *MockBrowser, store *ledger.Store, rec *stats.Recorder, parallelism, attempts int) *Scheduler {
	return &Scheduler{
		Browser:     b,
		Worker:      &Worker{Browser: b, Ledger: store, Stats: rec},
		Retrier:     NewRetrier(attempts, 0, store, rec),
		Stats:       rec,
		Parallelism: parallelism,
	}
}
