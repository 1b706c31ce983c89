// Command dispatchd classifies files by content and dispatches each to a
// configured external plugin, recursively unpacking archive-like payloads,
// and emits one NDJSON record per plugin result on stdout (spec §1, §6).
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/dispatchd/internal/classifier"
	"github.com/standardbeagle/dispatchd/internal/config"
	"github.com/standardbeagle/dispatchd/internal/engine"
	"github.com/standardbeagle/dispatchd/internal/logger"
)

func main() {
	app := &cli.App{
		Name:                   "dispatchd",
		Usage:                  "classify and dispatch files to content-specific plugins",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "plugin config YAML path",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "rules",
				Usage:    "classification rules file path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "input file or directory root (default: read one item from stdin)",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "log file path (default: stderr)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent input workers (default: runtime.NumCPU())",
			},
			&cli.IntFlag{
				Name:  "output-workers",
				Usage: "concurrent output workers (default: 2*runtime.NumCPU())",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dispatchd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rc, err := classifier.LoadRules(c.String("rules"))
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	logOut := os.Stderr
	if path := c.String("log"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log := logger.New(logOut, logger.LevelInfo)

	inputWorkers := c.Int("workers")
	if inputWorkers <= 0 {
		inputWorkers = runtime.NumCPU()
	}
	outputWorkers := c.Int("output-workers")
	if outputWorkers <= 0 {
		outputWorkers = 2 * runtime.NumCPU()
	}

	eng := engine.New(engine.Options{
		Config:        cfg,
		Classifier:    rc,
		InputPath:     c.String("input"),
		Log:           log,
		Sink:          os.Stdout,
		InputWorkers:  inputWorkers,
		OutputWorkers: outputWorkers,
	})

	return eng.Run()
}
