// Package norfs is a small log-structured filesystem for NOR flash.
//
// Files are append-only chains of 4 KiB sectors identified by a numeric id
// and an application-defined type. The list of files lives in an
// allocation table that is rewritten into one of four rotating slots on
// every change, so a power loss at any point leaves the previous
// generation intact.
//
// # Quick Start
//
//	dev := flash.NewMemory(64 << 20)
//	fs, _ := norfs.Mount(ctx, dev)
//	defer fs.Close(ctx)
//
//	w, _ := fs.CreateAndOpenForWrite(ctx, 0x0001)
//	w.Write(sample)
//	w.Close()
//
//	r, _ := fs.OpenForRead(ctx, w.ID())
//	data, _ := io.ReadAll(r)
//	r.Close()
//
// # Durability Model
//
// Written pages are queued and programmed by a background executor.
// FileWriter.Flush and FileWriter.Close return once every queued page of the
// writer has been programmed. Data written after the last Flush of a writer
// that never got closed is lost on power failure; the rest of the file stays
// readable.
//
// Every page carries a checksum. The per-sector length and next pointer are
// written four times and decoded by majority vote.
//
// # Backpressure
//
// The write queue is bounded (WithWriteQueueSize). When it is full, Write,
// Flush and Close return ErrWriteQueueFull without blocking and the caller
// retries later.
//
// # Concurrency
//
// An FS is safe for concurrent use. A file has at most one open reader or
// writer at a time; a second open returns ErrFileInUse. FileReader and
// FileWriter are not safe for concurrent use.
//
// # Error Handling
//
// Driver failures are returned as *FlashError wrapping the driver's error:
//
//	var fe *norfs.FlashError
//	if errors.As(err, &fe) {
//	    log.Printf("flash %s failed at %#x", fe.Op, fe.Address)
//	}
//
// Readers report corrupted pages as *CorruptedPageError (Read) or
// StatusCorruptedPage (ReadFull) and can continue after them.
package norfs
