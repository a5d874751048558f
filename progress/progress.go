// Package progress renders one bar per concurrent transfer.
package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type Progress struct {
	progress *mpb.Progress
	mu       sync.Mutex
}

// Bar counts the bytes written to it.
type Bar struct {
	bar *mpb.Bar
}

func New() *Progress {
	return &Progress{
		progress: mpb.New(),
	}
}

// NewWithOutput renders to w instead of stdout.
func NewWithOutput(w io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(w)),
	}
}

func (p *Progress) NewBar(total int64, text string) *Bar {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar := p.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: 24, C: decor.DindentRight}),
			decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
		),
	)

	// mpb treats a zero total as unknown and would never complete it.
	if total == 0 {
		bar.SetTotal(-1, true)
	}

	return &Bar{bar: bar}
}

// Wait blocks until every bar is complete or aborted.
func (p *Progress) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progress.Wait()
}

func (b *Bar) Write(p []byte) (int, error) {
	b.bar.IncrBy(len(p))
	return len(p), nil
}

// Abort stops a bar whose transfer failed so Wait does not block on it.
func (b *Bar) Abort() {
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
}

func (b *Bar) Completed() bool {
	return b.bar.Completed()
}

func (b *Bar) Current() int64 {
	return b.bar.Current()
}
