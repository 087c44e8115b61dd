package auth

import (
	"net/url"
	"sync"
)

// EntryContext is how the session manager sees the surface that started it:
// the query parameters of the entry URL, a way to rewrite that URL, and a way
// to send the user elsewhere.
type EntryContext interface {
	// Query returns the named query parameter, or "" when absent.
	Query(name string) string
	// ReplaceURL rewrites the visible entry URL without navigating.
	ReplaceURL(path string)
	// Redirect sends the user to url.
	Redirect(url string)
}

// QueryEntry is an EntryContext backed by a fixed set of query values. The
// CLI uses it for `login --code`, and tests use it to observe how the manager
// treats the entry URL.
type QueryEntry struct {
	mu         sync.Mutex
	values     url.Values
	replaced   []string
	redirectTo string
}

var _ EntryContext = (*QueryEntry)(nil)

// NewQueryEntry returns an entry context for the given query values.
func NewQueryEntry(values url.Values) *QueryEntry {
	if values == nil {
		values = url.Values{}
	}
	return &QueryEntry{values: values}
}

func (e *QueryEntry) Query(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values.Get(name)
}

// ReplaceURL records the rewrite and drops every query parameter, so a
// second read of the code returns "".
func (e *QueryEntry) ReplaceURL(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaced = append(e.replaced, path)
	if u, err := url.Parse(path); err == nil {
		e.values = u.Query()
	} else {
		e.values = url.Values{}
	}
}

func (e *QueryEntry) Redirect(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redirectTo = url
}

// Replaced returns every path passed to ReplaceURL, in order.
func (e *QueryEntry) Replaced() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.replaced...)
}

// RedirectedTo returns the last redirect target, or "".
func (e *QueryEntry) RedirectedTo() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redirectTo
}
