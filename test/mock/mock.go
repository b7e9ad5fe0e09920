package mock

import (
	"fmt"
	"strings"
	"sync"

	"dsphmm/core/msgbus"
)

// MockLog records every message so tests can assert on them.
type MockLog struct {
	Name string

	mu    sync.Mutex
	lines []string
}

func (l *MockLog) record(level string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+strings.TrimRight(msg, "\n"))
}

func (l *MockLog) Debug(args ...interface{}) {
	l.record("DEBUG", fmt.Sprint(args...))
}

func (l *MockLog) Debugf(format string, args ...interface{}) {
	l.record("DEBUG", fmt.Sprintf(format, args...))
}

func (l *MockLog) Info(args ...interface{}) {
	l.record("INFO", fmt.Sprint(args...))
}

func (l *MockLog) Infof(format string, args ...interface{}) {
	l.record("INFO", fmt.Sprintf(format, args...))
}

func (l *MockLog) Warn(args ...interface{}) {
	l.record("WARN", fmt.Sprint(args...))
}

func (l *MockLog) Warnf(format string, args ...interface{}) {
	l.record("WARN", fmt.Sprintf(format, args...))
}

func (l *MockLog) Error(args ...interface{}) {
	l.record("ERROR", fmt.Sprint(args...))
}

func (l *MockLog) Errorf(format string, args ...interface{}) {
	l.record("ERROR", fmt.Sprintf(format, args...))
}

// Lines returns the recorded messages prefixed by their level.
func (l *MockLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Count returns how many messages were logged at level.
func (l *MockLog) Count(level string) int {
	n := 0
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, level+" ") {
			n++
		}
	}
	return n
}

func GetMockLogger(name string) *MockLog {
	return &MockLog{Name: name}
}

// Recorder is a bus subscriber that keeps every message it receives.
type Recorder struct {
	mu   sync.Mutex
	msgs []*msgbus.BusMessage
}

func (r *Recorder) HandleMsgFromMsgBus(msg *msgbus.BusMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *Recorder) Messages() []*msgbus.BusMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*msgbus.BusMessage(nil), r.msgs...)
}
