package trader

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type LogEntry struct {
	Message   string
	Time      time.Time
	Displayed bool
}

// LogBook buffers user-facing messages for a polling consumer. Each entry
// is handed out once by Undisplayed.
type LogBook struct {
	mu      sync.Mutex
	entries []LogEntry
	logger  *logrus.Logger
	now     func() time.Time
}

func NewLogBook(logger *logrus.Logger) *LogBook {
	return &LogBook{
		logger: logger,
		now:    time.Now,
	}
}

// Add records msg and mirrors it to the process logger.
func (b *LogBook) Add(msg string) {
	if b.logger != nil {
		b.logger.Info(msg)
	}
	b.mu.Lock()
	b.entries = append(b.entries, LogEntry{Message: msg, Time: b.now()})
	b.mu.Unlock()
}

// Undisplayed returns the entries not yet handed out and marks them
// displayed.
func (b *LogBook) Undisplayed() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []LogEntry
	for i := range b.entries {
		if b.entries[i].Displayed {
			continue
		}
		out = append(out, b.entries[i])
		b.entries[i].Displayed = true
	}
	return out
}

// Entries returns a copy of the full history.
func (b *LogBook) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
