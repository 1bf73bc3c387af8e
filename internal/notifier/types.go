package notifier

import "time"

// Config controls run announcements.
type Config struct {
	Enabled  bool
	Token    string
	ChatID   int64
	ThreadID int

	// OnlyChanges skips runs that created, updated and failed nothing.
	OnlyChanges bool

	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type HistoryItem struct {
	At   time.Time
	Text string
}
