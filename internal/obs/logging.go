package obs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Event struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Component string `json:"component"`
	Backend   string `json:"backend,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Op        string `json:"op,omitempty"`
	Key       string `json:"key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventLog writes one JSON object per line. A nil *EventLog writes to stdout.
type EventLog struct {
	mu sync.Mutex
	w  io.Writer
}

var stdoutEvents = &EventLog{w: os.Stdout}

func NewEventLog(w io.Writer) *EventLog {
	if w == nil {
		w = os.Stdout
	}
	return &EventLog{w: w}
}

func (l *EventLog) Log(event Event) {
	if l == nil {
		l = stdoutEvents
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	event.Component = defaultString(event.Component, "cache")

	data, err := json.Marshal(event)
	if err != nil {
		l.mu.Lock()
		_, _ = fmt.Fprintf(l.w, "log_marshal_error event=%s error=%v\n", event.Event, err)
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	_, _ = l.w.Write(append(data, '\n'))
	l.mu.Unlock()
}

// RedactKey replaces a cache key with a short stable digest. Keys routinely
// carry session identifiers and must not reach logs verbatim.
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:8])
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
