// Command norfs inspects and edits norfs flash images on the host.
//
// An image is a raw dump of the flash device. Images created by norfs are
// erased (all 0xFF) up to --size.
//
//	norfs --image flight.bin format
//	norfs --image flight.bin put --type 3 telemetry.csv
//	norfs --image flight.bin ls
//	norfs --image flight.bin cat 1 > telemetry.csv
//	norfs --image flight.bin export --codec zstd flight.img
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/norfs"
)

func main() {
	if err := newApp(afero.NewOsFs(), os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "norfs:", err)
		os.Exit(1)
	}
}

func newApp(fsys afero.Fs, stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	e := &env{fsys: fsys}
	return &cli.App{
		Name:      "norfs",
		Usage:     "inspect and edit norfs flash images",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "flash image `FILE`",
				EnvVars:  []string{"NORFS_IMAGE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "size",
				Usage: "device size for new images, e.g. 64MiB",
				Value: "64MiB",
			},
			&cli.BoolFlag{
				Name:  "mmap",
				Usage: "memory-map the image instead of using file I/O",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "sector allocation seed",
				Value: norfs.DefaultSeed,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log filesystem operations to stderr",
			},
		},
		Commands: []*cli.Command{
			e.formatCommand(),
			e.lsCommand(),
			e.catCommand(),
			e.putCommand(),
			e.appendCommand(),
			e.rmCommand(),
			e.dfCommand(),
			e.inspectCommand(),
			e.exportCommand(),
			e.importCommand(),
		},
	}
}

func newLogger(c *cli.Context) *norfs.Logger {
	if !c.Bool("verbose") {
		return norfs.NoopLogger()
	}
	return norfs.NewLogger(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
