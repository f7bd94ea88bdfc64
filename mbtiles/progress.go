package mbtiles

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// ProgressWriter creates the progress trackers used by long operations:
// count-based for merges, crops and comparisons, byte-based for transfers.
type ProgressWriter interface {
	NewCountProgress(total int64, description string) Progress
	NewBytesProgress(total int64, description string) Progress
}

// Progress is an active tracker.
type Progress interface {
	io.Writer
	Add(num int)
	Close() error
}

var (
	progressWriterMu sync.RWMutex
	progressWriter   ProgressWriter = &barProgressWriter{}
	quietMode        bool
)

// SetProgressWriter replaces the progress writer of every operation. Nil
// disables progress reporting.
func SetProgressWriter(pw ProgressWriter) {
	progressWriterMu.Lock()
	defer progressWriterMu.Unlock()
	if pw == nil {
		progressWriter = quietProgressWriter{}
	} else {
		progressWriter = pw
	}
}

// SetQuietMode switches between the terminal progress bars and no progress
// output at all.
func SetQuietMode(quiet bool) {
	progressWriterMu.Lock()
	defer progressWriterMu.Unlock()
	quietMode = quiet
	if quiet {
		progressWriter = quietProgressWriter{}
	} else {
		progressWriter = &barProgressWriter{}
	}
}

func IsQuietMode() bool {
	progressWriterMu.RLock()
	defer progressWriterMu.RUnlock()
	return quietMode
}

func getProgressWriter() ProgressWriter {
	progressWriterMu.RLock()
	defer progressWriterMu.RUnlock()
	return progressWriter
}

// barProgressWriter draws schollz/progressbar bars on the terminal.
type barProgressWriter struct{}

func (barProgressWriter) NewCountProgress(total int64, description string) Progress {
	return &progressBar{bar: progressbar.Default(total, description)}
}

func (barProgressWriter) NewBytesProgress(total int64, description string) Progress {
	return &progressBar{bar: progressbar.DefaultBytes(total, description)}
}

type progressBar struct {
	bar *progressbar.ProgressBar
}

func (p *progressBar) Write(data []byte) (int, error) {
	return p.bar.Write(data)
}

func (p *progressBar) Add(num int) {
	_ = p.bar.Add(num)
}

func (p *progressBar) Close() error {
	return p.bar.Close()
}

type quietProgressWriter struct{}

func (quietProgressWriter) NewCountProgress(int64, string) Progress { return quietProgress{} }

func (quietProgressWriter) NewBytesProgress(int64, string) Progress { return quietProgress{} }

type quietProgress struct{}

func (quietProgress) Write(data []byte) (int, error) { return len(data), nil }

func (quietProgress) Add(int) {}

func (quietProgress) Close() error { return nil }
