package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flash"
)

// imageDevice is a flash device backed by a host file.
type imageDevice interface {
	flash.Flash
	Sync() error
	Close() error
}

// env carries what every command needs besides its arguments.
type env struct {
	fsys afero.Fs
}

// imageSize returns the size of the existing image, or --size for a new one.
func (e *env) imageSize(c *cli.Context) (uint32, error) {
	info, err := e.fsys.Stat(c.String("image"))
	switch {
	case err == nil && info.Size() > 0:
		if info.Size() > math.MaxUint32 {
			return 0, fmt.Errorf("image %s is larger than 4GiB", c.String("image"))
		}
		return uint32(info.Size()), nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return 0, err
	}
	return parseSize(c.String("size"))
}

func parseSize(s string) (uint32, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n == 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("invalid size %q: must be between 1 byte and 4GiB", s)
	}
	return uint32(n), nil
}

// openImage opens the image with the given size. A zero size uses imageSize.
func (e *env) openImage(c *cli.Context, size uint32) (imageDevice, error) {
	if size == 0 {
		var err error
		if size, err = e.imageSize(c); err != nil {
			return nil, err
		}
	}
	if c.Bool("mmap") {
		dev, err := flash.OpenMmapFile(c.String("image"), size)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	dev, err := flash.OpenFile(e.fsys, c.String("image"), size)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func mountOptions(c *cli.Context) []norfs.Option {
	return []norfs.Option{
		norfs.WithLogger(newLogger(c)),
		norfs.WithSeed(c.Uint64("seed")),
	}
}

// withFS mounts the image, runs fn and unmounts. The image is synced even
// when fn fails so that completed writes survive.
func (e *env) withFS(c *cli.Context, fn func(ctx context.Context, nfs *norfs.FS) error) (err error) {
	dev, err := e.openImage(c, 0)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, dev.Sync(), dev.Close())
	}()

	ctx := c.Context
	nfs, err := norfs.Mount(ctx, dev, mountOptions(c)...)
	if err != nil {
		return err
	}
	err = fn(ctx, nfs)
	return errors.Join(err, nfs.Close(ctx))
}
