// Package quota implements the per-source token bucket ledger.
//
// # Token Bucket
//
// Each source has a bucket of Capacity tokens refilled continuously at
// RefillRate tokens per second. A permit of cost n consumes n tokens; if
// fewer are available the permit is denied with the time until they will
// be:
//
//	ledger, _ := quota.NewLedger(quota.LedgerConfig{
//	    Router:  storage.Direct(store),
//	    Configs: quota.Static{Capacity: 10, RefillRate: 1},
//	})
//	res, _ := ledger.Acquire(ctx, "example.com/search", 1)
//	if !res.Granted {
//	    time.Sleep(res.RetryAfter)
//	}
//
// # Shared State
//
// Buckets live under "quota:{source}" in a storage.Store and are updated
// with a bounded compare-and-swap loop. Stored buckets expire after
// max(60s, 4*Capacity/RefillRate) without writes; an expired bucket reads
// as full. A bucket written under a different configuration is recreated.
package quota
