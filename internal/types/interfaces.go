package types

import "context"

// =============================================================================
// BROWSER CAPABILITY
// =============================================================================
//
// The orchestration core never touches a browser driver directly. Everything
// it needs from a page is expressed here; internal/browser provides the rod
// implementation and the campaign tests provide in-memory fakes.

// Element is a handle to a DOM node inside a Tab.
type Element interface {
	// Text returns the element's rendered inner text.
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value; ok is false when it is absent.
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
}

// Tab is one independent navigation context. A Tab is never shared between
// concurrently running activities.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	HTML(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
	// Capture stores a screenshot of the current view and returns its path.
	Capture(ctx context.Context, label string) (string, error)
	Close() error
}

// Browser hands out tabs that share one authenticated session.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	// Authenticated reports whether the stored session is logged in.
	Authenticated(ctx context.Context) (bool, error)
}

// Capturer is the subset of Tab used for diagnostics.
type Capturer interface {
	Capture(ctx context.Context, label string) (string, error)
}
