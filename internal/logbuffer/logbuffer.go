// Package logbuffer keeps the most recent log lines in memory so the ops API
// can serve them without touching disk.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single captured log line
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer of log entries
type Buffer struct {
	entries []Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// New creates a buffer holding up to size entries
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write implements io.Writer for capturing zerolog output. Each call is
// expected to carry one JSON line.
func (b *Buffer) Write(p []byte) (int, error) {
	entry := parse(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	return len(p), nil
}

// Entries returns all entries in chronological order
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	if b.count == 0 {
		return result
	}

	start := 0
	if b.count == b.size {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.size]
	}
	return result
}

// Recent returns the most recent n entries, optionally filtered to level and above
func (b *Buffer) Recent(n int, minLevel string) []Entry {
	entries := b.Entries()

	if minLevel != "" {
		threshold, err := zerolog.ParseLevel(minLevel)
		if err == nil {
			filtered := entries[:0]
			for _, e := range entries {
				lvl, err := zerolog.ParseLevel(e.Level)
				if err != nil || lvl >= threshold {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
	}

	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// Clear drops all entries
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// parse decodes a zerolog JSON line, falling back to the raw text
func parse(p []byte) Entry {
	entry := Entry{Timestamp: time.Now(), Level: zerolog.InfoLevel.String()}

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		entry.Message = strings.TrimSpace(string(p))
		return entry
	}

	if v, ok := fields[zerolog.LevelFieldName].(string); ok {
		entry.Level = v
		delete(fields, zerolog.LevelFieldName)
	}
	if v, ok := fields[zerolog.MessageFieldName].(string); ok {
		entry.Message = v
		delete(fields, zerolog.MessageFieldName)
	}
	if v, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts
		}
		delete(fields, zerolog.TimestampFieldName)
	}
	if v, ok := fields["component"].(string); ok {
		entry.Component = v
		delete(fields, "component")
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry
}
