package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger()
	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func newApp(logger log.Logger) *cli.App {
	verbose := &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Print debug logs",
	}

	return &cli.App{
		Name:  "webassets",
		Usage: "Opalnova web asset tooling",
		Flags: []cli.Flag{verbose},
		Before: func(c *cli.Context) error {
			logger.EnableDebugLog(c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload an image and its renditions to pre-signed destinations",
				ArgsUsage: "FILE",
				Action:    uploadCommand(logger),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "full", Usage: "Destination of the original image", Required: true},
					&cli.StringFlag{Name: "medium", Usage: "Destination of the medium rendition"},
					&cli.StringFlag{Name: "small", Usage: "Destination of the small rendition"},
					&cli.StringFlag{Name: "public-url", Usage: "Public URL of the uploaded original"},
				},
			},
			{
				Name:   "content",
				Usage:  "List the files scanned by the stylesheet build",
				Action: contentCommand(logger),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "Build configuration (YAML); the built-in configuration is used when empty"},
					&cli.StringFlag{Name: "dir", Value: "assets", Usage: "Assets directory the content patterns are relative to"},
				},
			},
			{
				Name:      "digest",
				Usage:     "Write gzip and zstd siblings of compressible static files",
				ArgsUsage: "DIR",
				Action:    digestCommand(logger),
			},
			{
				Name:      "csrf",
				Usage:     "Print the CSRF token of a live page",
				ArgsUsage: "URL",
				Action:    csrfCommand(logger),
			},
		},
	}
}
