// Package testutil provides testing utilities for norfs.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Payloads
//
//	rng := testutil.NewRNG(seed)
//	data := rng.Bytes(8032)
//	for _, chunk := range rng.Chunks(data, 300) {
//	    w.Write(chunk)
//	}
//
// # Backpressure
//
//	gate := testutil.NewGatedFlash(flash.NewMemory(size))
//	gate.Hold() // writes block until gate.Open()
package testutil
