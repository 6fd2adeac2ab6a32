package norfs_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flash"
)

// Example demonstrates logging a file and reading it back.
func Example() {
	ctx := context.Background()

	fs, err := norfs.Mount(ctx, flash.NewMemory(1<<20))
	if err != nil {
		log.Fatal(err)
	}
	defer fs.Close(ctx)

	w, err := fs.CreateAndOpenForWrite(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := io.WriteString(w, "t=0 alt=0\nt=1 alt=12\n"); err != nil {
		log.Fatal(err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	r, err := fs.OpenForRead(ctx, w.ID())
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(string(data))
	// Output:
	// t=0 alt=0
	// t=1 alt=12
}

// ExampleFS_ConcurrentFiles demonstrates iterating while files are removed.
func ExampleFS_ConcurrentFiles() {
	ctx := context.Background()

	fs, err := norfs.Mount(ctx, flash.NewMemory(1<<20))
	if err != nil {
		log.Fatal(err)
	}
	defer fs.Close(ctx)

	for _, typ := range []norfs.FileType{1, 2, 1} {
		if _, err := fs.Create(ctx, typ); err != nil {
			log.Fatal(err)
		}
	}

	for entry, err := range fs.ConcurrentFiles(norfs.ByType(1)).All(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(entry.ID)
		if err := fs.Remove(ctx, entry.ID); err != nil {
			log.Fatal(err)
		}
	}
	// Output:
	// 1
	// 3
}

// ExampleFileReader_ReadFull demonstrates the explicit read status.
func ExampleFileReader_ReadFull() {
	ctx := context.Background()

	fs, err := norfs.Mount(ctx, flash.NewMemory(1<<20))
	if err != nil {
		log.Fatal(err)
	}
	defer fs.Close(ctx)

	w, err := fs.CreateAndOpenForWrite(ctx, 7)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		log.Fatal(err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	r, err := fs.OpenForRead(ctx, w.ID())
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	n, status, err := r.ReadFull(buf)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(n, status.Kind)
	// Output: 5 end of file
}
