package cui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dyastin-0/gostash/core"
	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/styles"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
)

// ClientUI is the interactive front of a client session.
type ClientUI struct {
	addr   string
	dir    string
	log    logger.Logger
	out    io.Writer
	client *core.Client
}

func New(addr, dir string, log logger.Logger) *ClientUI {
	if log == nil {
		log = logger.Nop()
	}

	return &ClientUI{
		addr: addr,
		dir:  dir,
		log:  log,
		out:  os.Stdout,
	}
}

func (ui *ClientUI) connect(opts ...core.Option) error {
	opts = append([]core.Option{core.WithDir(ui.dir), core.WithLogger(ui.log)}, opts...)

	return spinner.New().
		Title(fmt.Sprintf("connecting to %s...", ui.addr)).
		ActionWithErr(func(ctx context.Context) error {
			c, err := core.Dial(ctx, ui.addr, opts...)
			if err != nil {
				return err
			}
			ui.client = c
			return nil
		}).
		Run()
}

// Run prompts for commands until the user quits or the connection dies.
func (ui *ClientUI) Run(ctx context.Context) error {
	if err := ui.connect(core.WithProgress(core.BarProgress)); err != nil {
		ui.println(styles.ERROR.Render(fmt.Sprintf("unable to connect to %s: %v", ui.addr, err)))
		return err
	}

	ui.println(styles.TITLE.Render("gostash"), styles.SUCCESS.Render("connected to "+ui.addr))

	for {
		if ctx.Err() != nil {
			return ui.quit()
		}

		cmd, err := ui.promptCommand()
		if err != nil || cmd == core.CommandQuit {
			return ui.quit()
		}

		name, err := ui.promptFilename(cmd)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				continue
			}
			ui.println(styles.ERROR.Render(err.Error()))
			continue
		}

		if ok, err := ui.exec(cmd, name); !ok {
			return err
		}
	}
}

// exec runs one command and reports whether the session can go on.
func (ui *ClientUI) exec(cmd core.Command, name string) (bool, error) {
	if cmd == core.CommandQuit {
		return false, ui.quit()
	}

	res, err := ui.client.Do(cmd, name)
	if err != nil {
		ui.println(styles.ERROR.Render(fmt.Sprintf("%s %s failed: %v", cmd, name, err)))

		// The client closes the connection itself whenever a failure leaves
		// the stream between frames.
		if !ui.client.Alive() || core.IsConnection(err) || core.IsTruncation(err) {
			ui.client.Close()
			return false, err
		}
		return true, nil
	}

	verb := "uploaded"
	if res.Command == core.CommandDownload {
		verb = "downloaded"
	}

	ui.println(
		styles.SUCCESS.Render(fmt.Sprintf("%s %s (%d bytes)", res.Name, verb, res.Bytes)),
		styles.DIGEST.Render(res.Digest),
	)

	return true, nil
}

func (ui *ClientUI) quit() error {
	if ui.client == nil {
		return nil
	}

	err := ui.client.Quit()
	ui.println(styles.INFO.Render("bye"))

	return err
}

func (ui *ClientUI) promptCommand() (core.Command, error) {
	var cmd core.Command

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[core.Command]().
				Title("what would you like to do?").
				Options(
					huh.NewOption("upload a file", core.CommandUpload),
					huh.NewOption("download a file", core.CommandDownload),
					huh.NewOption("quit", core.CommandQuit),
				).
				Value(&cmd),
		),
	)

	if err := form.Run(); err != nil {
		return core.CommandInvalid, err
	}

	return cmd, nil
}

func (ui *ClientUI) promptFilename(cmd core.Command) (string, error) {
	if cmd == core.CommandUpload {
		return ui.selectFile(ui.dir)
	}

	var name string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("filename to download").
				Value(&name).
				Validate(validateFilename),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	return name, nil
}

func validateFilename(name string) error {
	if name == "" {
		return errors.New("filename cannot be empty")
	}
	if len(name) > core.MaxTextLength {
		return fmt.Errorf("filename longer than %d bytes", core.MaxTextLength)
	}
	return nil
}

func (ui *ClientUI) println(a ...any) {
	fmt.Fprintln(ui.out, a...)
}
