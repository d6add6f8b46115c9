// Package concurrent runs batches of independent remote operations (file
// transfers, queue drops, endpoint probes) with a bound on parallelism.
//
//	results, err := concurrent.MapWithLimit(ctx, files, cfg.MaxConcurrentTransfers,
//	    func(ctx context.Context, name string) (string, error) {
//	        return download(ctx, name)
//	    })
//
// Every item is attempted even when some fail. Failures come back joined
// with errors.Join, each wrapped in an *ItemError carrying the item index.
package concurrent
