package orchestrator

import "time"

// Config carries the orchestrator tunables. CallTimeout must stay shorter
// than ReaperTimeout so a hung external call is caught by the reaper instead
// of blocking a worker indefinitely.
type Config struct {
	MaxRetries  int
	CallTimeout time.Duration

	FinalizerInterval  time.Duration
	FinalizerBatchSize int

	ReaperInterval  time.Duration
	ReaperTimeout   time.Duration
	ReaperBatchSize int

	RetentionInterval  time.Duration
	RetentionMaxAge    time.Duration
	RetentionBatchSize int

	// CrawlQueueURL is the dispatch target embedded in external rules.
	CrawlQueueURL string
}
