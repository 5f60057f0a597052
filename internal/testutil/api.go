package testutil

import (
	"net/http"
	"sync"
)

// RequestLog is chi middleware recording every request hitting a fake API
// server, so tests can assert which calls happened (or that none did).
type RequestLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *RequestLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			entry += "?" + r.URL.RawQuery
		}
		l.mu.Lock()
		l.entries = append(l.entries, entry)
		l.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (l *RequestLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *RequestLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Contains reports whether any recorded entry equals the given one.
func (l *RequestLog) Contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
