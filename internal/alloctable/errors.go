package alloctable

import "errors"

var (
	// ErrCorruptedEntry is returned when a table stream holds a structurally
	// invalid record. Records after it cannot be trusted.
	ErrCorruptedEntry = errors.New("alloctable: corrupted file entry")

	// ErrTableFull is returned when a generation would exceed MaxFiles.
	ErrTableFull = errors.New("alloctable: table full")

	// ErrUnordered is returned when entries are not written in ascending id order.
	ErrUnordered = errors.New("alloctable: entries out of order")

	// ErrBuilderDone is returned by a builder after Commit or Abort.
	ErrBuilderDone = errors.New("alloctable: builder already finished")

	errVersion  = errors.New("alloctable: unsupported version")
	errCount    = errors.New("alloctable: entry count exceeds capacity")
	errFooter   = errors.New("alloctable: footer mismatch")
	errChecksum = errors.New("alloctable: checksum mismatch")
)
