// Package safego launches panic-recovering goroutines for best-effort work.
package safego

import (
	"log/slog"
	"sync"
)

// Go runs fn in a new goroutine.  A panic is recovered and logged instead of
// crashing the process.
func Go(fn func()) {
	go run(fn)
}

// GoTracked is Go with wg.Add/Done around fn, so shutdown can wait for
// in-flight work.
func GoTracked(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(fn)
	}()
}

func run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine", "panic", r)
		}
	}()
	fn()
}
