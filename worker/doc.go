// Package worker provides a Worker: exactly one background goroutine running
// a caller-supplied unit of work, with start, cooperative stop and join.
//
// The unit of work receives a context that is canceled by RequestStop; it is
// expected to return promptly once ctx.Done() is closed. A returned error or
// a panic ends the run with a PROCESSING_FAILURE recorded in Err, and the
// Worker reports StateStopped.
//
// # Usage
//
//	w := worker.New("reader", func(ctx context.Context) error {
//	    for ctx.Err() == nil {
//	        // ...
//	    }
//	    return nil
//	})
//	if err := w.Start(nil); err != nil {
//	    return err
//	}
//	defer w.Stop()
package worker
