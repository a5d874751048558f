package cui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Dyastin-0/gostash/core"
	"github.com/Dyastin-0/gostash/styles"
)

// RunScript reads one command per line from r, e.g.
//
//	Upload report.txt
//	Download report.txt
//	Quit
//
// Unrecognized lines are reported and skipped. The session is closed with
// Quit at the end of input.
func (ui *ClientUI) RunScript(ctx context.Context, r io.Reader) error {
	if ui.client == nil {
		c, err := core.Dial(ctx, ui.addr, core.WithDir(ui.dir), core.WithLogger(ui.log))
		if err != nil {
			return err
		}
		ui.client = c
	}

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if ctx.Err() != nil {
			break
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		cmd := core.ParseCommand(fields[0])

		switch {
		case cmd == core.CommandInvalid:
			ui.println(styles.WARN.Render(fmt.Sprintf("line %d: invalid command %q, try Upload, Download or Quit", lineNo, fields[0])))
			continue

		case cmd != core.CommandQuit && len(fields) != 2:
			ui.println(styles.WARN.Render(fmt.Sprintf("line %d: %s takes exactly one filename", lineNo, cmd)))
			continue
		}

		var name string
		if len(fields) > 1 {
			name = fields[1]
		}

		if ok, err := ui.exec(cmd, name); !ok {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		ui.client.Close()
		return err
	}

	return ui.quit()
}
