// Command asmforge assembles, links and debugs assembly programs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dshills/asmforge/internal/cli"
	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.ParserOptions()...)

	cfg, err := config.Load(c.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmforge: %v\n", err)
		return 2
	}
	c.ApplyLogOverrides(&cfg)

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmforge: %v\n", err)
		return 2
	}
	defer logger.Close()

	if err := ctx.Run(cli.NewGlobals(cfg, logger.Logger)); err != nil {
		if !errors.Is(err, cli.ErrFailed) {
			fmt.Fprintf(os.Stderr, "asmforge: %v\n", err)
		}
		return 1
	}
	return 0
}
