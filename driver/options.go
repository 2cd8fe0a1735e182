package driver

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Journal modes accepted by SetJournalMode.
const (
	JournalWAL      = "WAL"
	JournalDelete   = "DELETE"
	JournalMemory   = "MEMORY"
	JournalTruncate = "TRUNCATE"
)

// Options configures the stores created by Open. Setters return the
// receiver so calls can be chained.
type Options struct {
	busyTimeout time.Duration
	journalMode string
	maxConns    int
	cacheSize   int
	logger      logrus.FieldLogger
}

// NewOptions creates options with default values: a five second busy
// timeout, WAL journaling and no read cache.
func NewOptions() *Options {
	return &Options{
		busyTimeout: 5 * time.Second,
		journalMode: JournalWAL,
		logger:      logrus.StandardLogger(),
	}
}

// SetBusyTimeout sets how long SQLite waits on a locked database before
// failing a statement.
func (o *Options) SetBusyTimeout(d time.Duration) *Options {
	o.busyTimeout = d
	return o
}

// SetJournalMode sets the SQLite journal mode. In-memory databases
// ignore it.
func (o *Options) SetJournalMode(mode string) *Options {
	o.journalMode = mode
	return o
}

// SetMaxOpenConns limits the SQLite connection pool. Zero leaves the
// database/sql default.
func (o *Options) SetMaxOpenConns(n int) *Options {
	o.maxConns = n
	return o
}

// SetCacheSize wraps the opened store in a read-through cache holding up
// to n documents. Zero disables the cache.
func (o *Options) SetCacheSize(n int) *Options {
	o.cacheSize = n
	return o
}

// SetLogger sets the logger stores report to.
func (o *Options) SetLogger(l logrus.FieldLogger) *Options {
	if l != nil {
		o.logger = l
	}
	return o
}
