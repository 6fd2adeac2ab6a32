package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flashimage"
)

func typeFlag() cli.Flag {
	return &cli.UintFlag{
		Name:    "type",
		Aliases: []string{"t"},
		Usage:   "file type",
	}
}

func parseID(s string) (norfs.FileID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid file id %q", s)
	}
	return norfs.FileID(id), nil
}

func parseType(c *cli.Context) (norfs.FileType, error) {
	t := c.Uint("type")
	if t > 0xFFFF {
		return 0, fmt.Errorf("invalid file type %d", t)
	}
	return norfs.FileType(t), nil
}

func (e *env) formatCommand() *cli.Command {
	return &cli.Command{
		Name:  "format",
		Usage: "erase the allocation tables and start an empty filesystem",
		Action: func(c *cli.Context) error {
			dev, err := e.openImage(c, 0)
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := norfs.Format(dev); err != nil {
				return err
			}
			nfs, err := norfs.Mount(c.Context, dev, mountOptions(c)...)
			if err != nil {
				return err
			}
			st := nfs.Stats()
			if err := nfs.Close(c.Context); err != nil {
				return err
			}
			if err := dev.Sync(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "formatted %s: %s, %d data sectors\n",
				c.String("image"), humanize.IBytes(uint64(dev.Size())), st.DataSectors)
			return nil
		},
	}
}

func (e *env) lsCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "list files",
		Flags:   []cli.Flag{typeFlag()},
		Action: func(c *cli.Context) error {
			var filter norfs.FileFilter
			if c.IsSet("type") {
				typ, err := parseType(c)
				if err != nil {
					return err
				}
				filter = norfs.ByType(typ)
			}

			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSIZE\tSECTORS\tFIRST")
				for entry, err := range nfs.FilesSeq(ctx, filter) {
					if err != nil {
						return err
					}
					size, err := nfs.FileSize(ctx, entry.ID)
					if err != nil {
						return err
					}
					first := "-"
					if s, ok := entry.FirstSector(); ok {
						first = strconv.Itoa(int(s))
					}
					fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", entry.ID, entry.Type, size.Bytes, size.Sectors, first)
				}
				return tw.Flush()
			})
		},
	}
}

func (e *env) catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "write a file's contents to stdout",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			id, err := parseID(c.Args().First())
			if err != nil {
				return err
			}

			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				r, err := nfs.OpenForRead(ctx, id)
				if err != nil {
					return err
				}
				defer r.Close()
				return copyOut(c.App.Writer, c.App.ErrWriter, r)
			})
		},
	}
}

// copyOut copies r to w. Corrupted pages are reported to errw and skipped.
func copyOut(w, errw io.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}

		var corrupted *norfs.CorruptedPageError
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &corrupted):
			fmt.Fprintf(errw, "warning: skipped corrupted page at %#x\n", corrupted.Address)
		default:
			return err
		}
	}
}

func (e *env) putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "create a file from FILE or stdin and print its id",
		ArgsUsage: "[FILE]",
		Flags:     []cli.Flag{typeFlag()},
		Action: func(c *cli.Context) error {
			typ, err := parseType(c)
			if err != nil {
				return err
			}
			src, closeSrc, err := e.openInput(c)
			if err != nil {
				return err
			}
			defer closeSrc()

			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				w, err := nfs.CreateAndOpenForWrite(ctx, typ)
				if err != nil {
					return err
				}
				n, err := copyIn(w, src)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%d\n", w.ID())
				if c.Bool("verbose") {
					fmt.Fprintf(c.App.ErrWriter, "wrote %s to file %d\n", humanize.IBytes(uint64(n)), w.ID())
				}
				return nil
			})
		},
	}
}

func (e *env) appendCommand() *cli.Command {
	return &cli.Command{
		Name:      "append",
		Usage:     "append FILE or stdin to an existing file",
		ArgsUsage: "ID [FILE]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.ShowSubcommandHelp(c)
			}
			id, err := parseID(c.Args().First())
			if err != nil {
				return err
			}
			src, closeSrc, err := e.openInputAt(c, 1)
			if err != nil {
				return err
			}
			defer closeSrc()

			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				w, err := nfs.OpenForWrite(ctx, id)
				if err != nil {
					return err
				}
				_, err = copyIn(w, src)
				return err
			})
		},
	}
}

func (e *env) openInput(c *cli.Context) (io.Reader, func(), error) {
	return e.openInputAt(c, 0)
}

// openInputAt opens argument i as input. A missing argument or "-" is stdin.
func (e *env) openInputAt(c *cli.Context, i int) (io.Reader, func(), error) {
	name := c.Args().Get(i)
	if name == "" || name == "-" {
		return c.App.Reader, func() {}, nil
	}
	f, err := e.fsys.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// copyIn streams src into w and closes w. A full write queue is retried
// after a short pause. w is closed on every path.
func copyIn(w *norfs.FileWriter, src io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if err := writeFull(w, buf[:n]); err != nil {
			return total, errors.Join(err, closeWriter(w))
		}
		total += int64(n)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return total, errors.Join(rerr, closeWriter(w))
		}
	}
	return total, closeWriter(w)
}

// writeFull writes p, pausing while the write queue is full.
func writeFull(w *norfs.FileWriter, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if errors.Is(err, norfs.ErrWriteQueueFull) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func closeWriter(w *norfs.FileWriter) error {
	for {
		err := w.Close()
		if !errors.Is(err, norfs.ErrWriteQueueFull) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *env) rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Aliases:   []string{"remove"},
		Usage:     "remove files by id, or every file of --type",
		ArgsUsage: "[ID...]",
		Flags:     []cli.Flag{typeFlag()},
		Action: func(c *cli.Context) error {
			if c.IsSet("type") {
				typ, err := parseType(c)
				if err != nil {
					return err
				}
				return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
					n, err := nfs.RemoveMatching(ctx, norfs.ByType(typ))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "removed %d files\n", n)
					return nil
				})
			}

			if c.NArg() == 0 {
				return cli.ShowSubcommandHelp(c)
			}
			ids := make([]norfs.FileID, 0, c.NArg())
			for _, arg := range c.Args().Slice() {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				for _, id := range ids {
					if err := nfs.Remove(ctx, id); err != nil {
						return fmt.Errorf("remove %d: %w", id, err)
					}
				}
				fmt.Fprintf(c.App.Writer, "removed %d files\n", len(ids))
				return nil
			})
		},
	}
}

func (e *env) dfCommand() *cli.Command {
	return &cli.Command{
		Name:  "df",
		Usage: "show free space",
		Action: func(c *cli.Context) error {
			return e.withFS(c, func(ctx context.Context, nfs *norfs.FS) error {
				st := nfs.Stats()
				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "files\t%d\n", st.Files)
				fmt.Fprintf(tw, "data sectors\t%d\n", st.DataSectors)
				fmt.Fprintf(tw, "free sectors\t%d\n", st.FreeSectors)
				fmt.Fprintf(tw, "free\t%s (%d bytes)\n", humanize.IBytes(uint64(nfs.Free())), nfs.Free())
				fmt.Fprintf(tw, "table\tsequence %d, slot %d\n", st.Sequence, st.Slot)
				return tw.Flush()
			})
		},
	}
}

func (e *env) inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "show the allocation table slots without mounting",
		Action: func(c *cli.Context) error {
			dev, err := e.openImage(c, 0)
			if err != nil {
				return err
			}
			defer dev.Close()

			slots, err := norfs.Inspect(dev)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tSTATUS\tSEQUENCE\tFILES\t")
			for _, s := range slots {
				switch {
				case s.Current:
					fmt.Fprintf(tw, "%d\tcurrent\t%d\t%d\t\n", s.Slot, s.Sequence, s.Files)
				case s.Valid():
					fmt.Fprintf(tw, "%d\tvalid\t%d\t%d\t\n", s.Slot, s.Sequence, s.Files)
				case s.Erased:
					fmt.Fprintf(tw, "%d\terased\t-\t-\t\n", s.Slot)
				default:
					fmt.Fprintf(tw, "%d\tinvalid\t-\t-\t%v\n", s.Slot, s.Err)
				}
			}
			return tw.Flush()
		},
	}
}

func (e *env) exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "write a compressed copy of the image to OUT",
		ArgsUsage: "OUT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "codec",
				Usage: "block compression: none, lz4 or zstd",
				Value: "zstd",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			codec, err := flashimage.ParseCodec(c.String("codec"))
			if err != nil {
				return err
			}
			dev, err := e.openImage(c, 0)
			if err != nil {
				return err
			}
			defer dev.Close()

			out, err := e.fsys.Create(c.Args().First())
			if err != nil {
				return err
			}
			s, err := flashimage.Export(out, dev, codec)
			if err = errors.Join(err, out.Close()); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "exported %d blocks (%d erased), %s -> %s\n",
				s.Blocks, s.ErasedBlocks, humanize.IBytes(uint64(s.RawBytes)), humanize.IBytes(uint64(s.StoredBytes)))
			return nil
		},
	}
}

func (e *env) importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "replace the image with the contents of an exported IN",
		ArgsUsage: "IN",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			in, err := e.fsys.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer in.Close()

			h, err := flashimage.ReadHeader(in)
			if err != nil {
				return err
			}
			if _, err := in.Seek(0, io.SeekStart); err != nil {
				return err
			}

			if err := e.fsys.Remove(c.String("image")); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			dev, err := e.openImage(c, h.Size)
			if err != nil {
				return err
			}
			s, err := flashimage.Import(in, dev)
			if err = errors.Join(err, dev.Sync(), dev.Close()); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "imported %d blocks (%d erased) into %s\n",
				s.Blocks, s.ErasedBlocks, c.String("image"))
			return nil
		},
	}
}
