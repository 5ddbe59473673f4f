// Package progress renders transfer progress for long-running clone and
// fetch operations.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar is a byte-counting spinner suitable as a sideband progress sink.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar returns a spinner labelled with description. When enabled is false
// the bar discards everything.
func NewBar(description string, enabled bool) *Bar {
	if !enabled {
		return &Bar{}
	}
	return &Bar{bar: progressbar.DefaultBytes(-1, description)}
}

// Writer returns the io.Writer the transfer should report into.
func (b *Bar) Writer() io.Writer {
	if b.bar == nil {
		return io.Discard
	}
	return b.bar
}

// Finish completes the bar's rendering.
func (b *Bar) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
