package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/opalnova/webassets/assets"
	"github.com/urfave/cli/v2"
)

func digestCommand(logger log.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected a static directory")
		}
		written, err := digest(c.Args().First(), logger)
		if err != nil {
			return err
		}
		logger.Donef("Wrote %d compressed files", written)
		return nil
	}
}

// digest precompresses every compressible file under dir.
func digest(dir string, logger log.Logger) (int, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*", doublestar.WithNoFollow(), doublestar.WithFilesOnly())
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	written := 0
	for _, match := range matches {
		if !assets.Compressible(match) {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(match))
		files, err := assets.Precompress(path)
		if err != nil {
			return written, err
		}
		logger.Debugf("Compressed %s", path)
		written += len(files)
	}
	return written, nil
}
