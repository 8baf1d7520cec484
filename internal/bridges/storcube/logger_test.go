package storcube

import "sync"

// recordingLogger implements Logger and counts entries per level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level)
}

func (l *recordingLogger) Debug(string, ...any) { l.record("debug") }
func (l *recordingLogger) Info(string, ...any)  { l.record("info") }
func (l *recordingLogger) Warn(string, ...any)  { l.record("warn") }
func (l *recordingLogger) Error(string, ...any) { l.record("error") }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == level {
			n++
		}
	}
	return n
}
