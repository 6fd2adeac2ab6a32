// Package flash defines the NOR flash capability consumed by norfs and
// provides host-side devices for tests and tooling.
//
// NOR flash has three properties the filesystem is built around:
//
//   - Erase sets every bit of a 4 KiB sector, 32 KiB block or 64 KiB block to 1.
//   - Programming can only clear bits (1 -> 0). A page is programmed at most
//     once between erases.
//   - Reads are random access, but bus transfers are bounded (4 KiB here).
//
// # Devices
//
//   - [Memory]: in-memory device with NOR semantics (AND on program).
//   - [File]: device backed by an image file on any afero.Fs.
//   - [MmapFile]: device backed by a memory-mapped image file (unix only).
//
// # Decorators
//
//   - [Stats]: counts operations and time spent per operation.
//   - [Faulty]: injects errors for fault-tolerance tests.
//   - [Throttled]: limits bus bandwidth to approximate real chip timing.
//
// # Design Notes
//
// Like a chip driver, this interface has no context.Context parameters.
// Every flash operation runs to completion once issued.
package flash
