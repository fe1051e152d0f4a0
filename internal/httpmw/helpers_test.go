package httpmw

import (
	"context"
	"net/http"
	"sync"

	"github.com/keithlinneman/sitedrop/internal/log"
)

type logEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// recLogger records entries and the fields passed to With. With returns
// the same logger so one instance sees everything a request logs.
type recLogger struct {
	mu      sync.Mutex
	entries []logEntry
	fields  []any
}

func (l *recLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, kv...)
	return l
}

func (l *recLogger) add(level, msg string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, err: err, kv: kv})
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) all() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

// field returns the value for key from With calls
func (l *recLogger) field(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return kvValue(l.fields, key)
}

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
