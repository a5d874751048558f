// Package cmd builds the gostash command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Dyastin-0/gostash/config"
	"github.com/Dyastin-0/gostash/core"
	"github.com/Dyastin-0/gostash/cui"
	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/store"
	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"
)

const VERSION = "0.4.0"

func New() *cli.Command {
	return &cli.Command{
		Name:    "gostash",
		Usage:   "a minimal remote file store: upload and download files over tcp",
		Version: VERSION,
		Action:  gostashAction,
		Commands: []*cli.Command{
			serveCommand(),
			shellCommand(),
			pushCommand(),
			pullCommand(),
		},
	}
}

func gostashAction(ctx context.Context, cmd *cli.Command) error {
	figure := figure.NewFigure("gostash", "", true)
	figure.Print()

	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the file server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "yaml config file",
			},
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   config.DefaultAddr,
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "storage root directory",
				Value:   config.DefaultRoot,
			},
			&cli.IntFlag{
				Name:  "max-conns",
				Usage: "maximum concurrent connections, 0 for unbounded",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "close sessions idle between commands for this long, 0 to disable",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Value: config.DefaultChunkSize,
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "log file, defaults to ~/gostash/server/gostash.log",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := serverConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Log, "server")
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Root)
	if err != nil {
		log.WithErr(err).Error("unable to prepare storage root")
		return err
	}

	srv := core.NewServer(cfg, st, log)

	return srv.ListenAndServe(ctx)
}

// serverConfig layers flags that were set explicitly over the config file.
func serverConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("addr") || cmd.String("config") == "" {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("root") || cmd.String("config") == "" {
		cfg.Root = cmd.String("root")
	}
	if cmd.IsSet("max-conns") {
		cfg.MaxConns = int(cmd.Int("max-conns"))
	}
	if cmd.IsSet("idle-timeout") {
		cfg.IdleTimeout = cmd.Duration("idle-timeout")
	}
	if cmd.IsSet("chunk-size") {
		cfg.ChunkSize = int(cmd.Int("chunk-size"))
	}
	if cmd.IsSet("log") {
		cfg.Log.Path = cmd.String("log")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg config.Log, name string) (logger.Logger, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = logger.LogPath(name)
		if err != nil {
			return nil, err
		}
	}

	log := logger.New()
	if cfg.Stdout {
		log.InitMultiWriter(path)
	} else {
		log.Init(path)
	}

	if err := log.SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	return log, nil
}

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Value:   config.DefaultAddr,
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "local directory files are read from and written to",
			Value:   workDir(),
		},
	}
}

// clientLogger writes to a file only so the terminal stays readable.
func clientLogger() logger.Logger {
	log, err := newLogger(config.Log{Level: "info"}, "client")
	if err != nil {
		return logger.Nop()
	}
	return log
}

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "connect and upload or download files interactively",
		Flags: append(clientFlags(),
			&cli.StringFlag{
				Name:  "script",
				Usage: "read commands from a file instead of prompting, - for stdin",
			},
		),
		Action: shellAction,
	}
}

func shellAction(ctx context.Context, cmd *cli.Command) error {
	ui := cui.New(cmd.String("addr"), cmd.String("dir"), clientLogger())

	script := cmd.String("script")
	switch script {
	case "":
		return ui.Run(ctx)
	case "-":
		return ui.RunScript(ctx, os.Stdin)
	default:
		f, err := os.Open(script)
		if err != nil {
			return err
		}
		defer f.Close()

		return ui.RunScript(ctx, f)
	}
}

func workDir() string {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}

	return dir
}
