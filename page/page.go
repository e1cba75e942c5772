// Package page isolates all DOM fragility behind one capability
// interface. The sign-up flow only ever talks to Page and Element, so
// swapping the underlying automation (or stubbing it in tests) never
// touches the state machine.
package page

import "time"

// Cookie is the subset of cookie state flows need for token capture.
type Cookie struct {
	Name  string
	Value string
}

// Element is one interactive node on the current page.
type Element interface {
	// Text returns the trimmed visible text of the element.
	Text() string
	// Attr returns an attribute value, or "" when absent.
	Attr(name string) string
	// Click activates the element. Clicking a submit control submits
	// the enclosing form.
	Click() error
	// Input types text into the element.
	Input(text string) error
}

// Page is a single browser tab (or an HTTP session emulating one).
type Page interface {
	// Open navigates to the URL and loads the resulting document.
	Open(url string) error
	// Find returns the first element matching the CSS selector, or nil.
	Find(selector string) Element
	// FindText returns the first element containing the literal text,
	// or nil.
	FindText(text string) Element
	// WaitFor polls for the selector until it appears or the timeout
	// elapses, returning nil on timeout.
	WaitFor(selector string, timeout time.Duration) Element
	// Eval runs a script in the page context and returns its result.
	Eval(script string) (string, error)
	// Cookies returns the cookies visible to the current document.
	Cookies() []Cookie
	// Close releases the tab and its session.
	Close() error
}
