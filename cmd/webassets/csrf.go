package main

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/opalnova/webassets/livesocket"
	"github.com/urfave/cli/v2"
)

func csrfCommand(logger log.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected a page URL")
		}
		token, err := livesocket.FetchCSRFToken(c.Context, retryhttp.NewClient(logger), c.Args().First())
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, token)
		return nil
	}
}
