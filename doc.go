// Package flight provides a cancellation-aware single-flight execution
// engine and an observable state machine built on top of it.
//
// # Overview
//
// Flight organizes code around four core concepts:
//
//  1. FlightLock: a FIFO mutual-exclusion queue where submitting a new body
//     immediately cancels the token of the one before it
//  2. Token: the per-submission cancellation handle with cooperative
//     checkpoints and ordered cleanup callbacks
//  3. Machine: a generic driver that transitions an observed Snapshot
//     through idle/running/completed/failed and bridges each run to an
//     exactly-once Future
//  4. Query and Mutation: the two thin specializations consumers hold
//
// # Basic Usage
//
// A Query starts running at construction and re-runs on Restart:
//
//	search := flight.NewQuery(func(tk *flight.Token) ([]Result, error) {
//	    req, _ := http.NewRequestWithContext(tk.Context(), "GET", url, nil)
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return nil, err
//	    }
//	    defer resp.Body.Close()
//	    return decode(resp.Body)
//	})
//
//	search.Restart()        // supersedes the in-flight fetch
//	state := search.State() // previous results shown while refreshing
//
// A Mutation starts idle, runs on demand and remembers its arguments:
//
//	save := flight.NewMutation(func(tk *flight.Token, item Item) (Item, error) {
//	    return store.Put(tk.Context(), item)
//	})
//
//	saved, err := save.RunAndAwait(item)
//	if err != nil {
//	    saved, err = save.RetryAndAwait()
//	}
//
// # Single Flight
//
// Only the most recently submitted run's outcome is ever observable. An
// earlier body that never checkpoints still runs to completion, but its
// state write is dropped and its future rejects with ErrCanceled. Bodies
// that want to stop early sprinkle checkpoints:
//
//	func(tk *flight.Token, n int) (int, error) {
//	    rows, err := flight.Wait(tk, func() ([]Row, error) {
//	        return fetchRows(n)
//	    })
//	    if err != nil {
//	        return 0, err // ErrCanceled if superseded around the fetch
//	    }
//	    if err := tk.Guard(); err != nil {
//	        return 0, err
//	    }
//	    return reduce(rows), nil
//	}
//
// Cancellation is cooperative, never preemptive. Work that can be aborted
// for real (an HTTP request, a driver query) should take tk.Context(), or
// register its own teardown with tk.OnCancel.
//
// # Observation
//
// Machines expose their state two ways: listeners fire on every surviving
// snapshot write, and each Run returns a Future that settles exactly once
// with the value, the domain error, ErrCanceled or ErrDisposed. Snapshots
// keep a single level of history, which Query.State uses to keep showing
// the previous result while a refresh is in flight.
//
// # Extensions
//
// Extensions hook the run lifecycle for cross-cutting concerns:
//
//	q := flight.NewQuery(fetch, flight.WithMachineOptions(
//	    flight.WithName("search"),
//	    flight.WithExtension(extensions.NewLoggingExtension(handler)),
//	))
//
// Every run is also appended to a bounded History of tagged records, which
// the extensions package can render for debugging.
//
// # Disposal
//
// Dispose is an idempotent one-way latch. It does not abort an in-flight
// body; it suppresses the body's eventual state writes and settles any
// outstanding futures with ErrDisposed.
package flight
