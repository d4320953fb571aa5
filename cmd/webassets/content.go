package main

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/opalnova/webassets/assets"
	"github.com/urfave/cli/v2"
)

func contentCommand(logger log.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		config := assets.DefaultBuildConfig()
		if path := c.String("config"); path != "" {
			loaded, err := assets.LoadBuildConfig(path)
			if err != nil {
				return err
			}
			config = loaded
		}

		files, err := config.ContentFiles(c.String("dir"), logger)
		if err != nil {
			return err
		}
		for _, file := range files {
			fmt.Fprintln(c.App.Writer, file)
		}
		return nil
	}
}
