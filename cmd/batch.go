package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Dyastin-0/gostash/core"
	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/progress"
	"github.com/Dyastin-0/gostash/styles"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func batchFlags() []cli.Flag {
	return append(clientFlags(),
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "number of files transferred at once, each on its own connection",
			Value:   4,
		},
	)
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "upload files",
		ArgsUsage: "FILE...",
		Flags:     batchFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return batchAction(ctx, cmd, core.CommandUpload)
		},
	}
}

func pullCommand() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "download files",
		ArgsUsage: "FILE...",
		Flags:     batchFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return batchAction(ctx, cmd, core.CommandDownload)
		},
	}
}

func batchAction(ctx context.Context, cmd *cli.Command, command core.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("%s needs at least one file", cmd.Name)
	}

	b := &batch{
		command:  command,
		addr:     cmd.String("addr"),
		dir:      cmd.String("dir"),
		parallel: int(cmd.Int("parallel")),
		log:      clientLogger(),
		progress: progress.New(),
	}

	results, err := b.run(ctx, names)

	for _, res := range results {
		fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("%s %s (%d bytes)", res.Command, res.Name, res.Bytes)), styles.DIGEST.Render(res.Digest))
	}
	if err != nil {
		fmt.Println(styles.ERROR.Render(err.Error()))
	}

	return err
}

// batch runs one client session per file, at most parallel at a time.
type batch struct {
	command  core.Command
	addr     string
	dir      string
	parallel int
	log      logger.Logger
	progress *progress.Progress
}

func (b *batch) run(ctx context.Context, names []string) ([]*core.Result, error) {
	var (
		mu      sync.Mutex
		results []*core.Result
		errs    []error
	)

	var g errgroup.Group
	if b.parallel > 0 {
		g.SetLimit(b.parallel)
	}

	for _, name := range names {
		g.Go(func() error {
			res, err := b.transfer(ctx, name)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return nil
			}
			results = append(results, res)
			return nil
		})
	}

	g.Wait()
	b.progress.Wait()

	return results, errors.Join(errs...)
}

func (b *batch) transfer(ctx context.Context, name string) (*core.Result, error) {
	var bar *progress.Bar

	client, err := core.Dial(ctx, b.addr,
		core.WithDir(b.dir),
		core.WithLogger(b.log),
		core.WithProgress(func(total int64, desc string) io.Writer {
			bar = b.progress.NewBar(total, desc)
			return bar
		}),
	)
	if err != nil {
		return nil, err
	}

	res, err := client.Do(b.command, name)
	if err != nil {
		if bar != nil {
			bar.Abort()
		}
		client.Close()
		return nil, err
	}

	return res, client.Quit()
}
