package core

import (
	"fmt"
	"io"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// TransferBar renders a single transfer in the interactive shell. Batch
// transfers use the progress package instead so bars can stack.
func TransferBar(total int64, desc string) *progressbar.ProgressBar {
	out := ansi.NewAnsiStdout()

	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[cyan]#[reset]",
			SaucerHead:    "[cyan]#[reset]",
			SaucerPadding: "-",
			BarStart:      "|",
			BarEnd:        "|",
		}),
		progressbar.OptionSetDescription(fmt.Sprintf("%-28s", desc)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowTotalBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(out)
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	// Empty files never receive a write.
	if total == 0 {
		bar.Finish()
	}

	return bar
}

// BarProgress is a ProgressFunc rendering TransferBar.
func BarProgress(total int64, desc string) io.Writer {
	return TransferBar(total, desc)
}
