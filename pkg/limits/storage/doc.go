// Package storage provides the shared-state backends for quota and
// breaker state.
//
// # Overview
//
// Every backend implements Store: a versioned key/value store with
// compare-and-swap, unconditional set, TTL and delete. The quota ledger and
// the circuit breaker never write blindly; they run Update, a bounded
// read-modify-write loop that recomputes against fresh state whenever a
// concurrent writer wins the race.
//
//   - Memory: in-process, per-key locking (default, and the local fallback)
//   - SQLite: WAL file database shared by processes on one host
//   - Postgres: networked SQL database shared by a fleet
//   - Redis: Lua-scripted CAS on hashes
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.OpenConfig{
//	    Backend: storage.BackendRedis,
//	    Redis:   storage.RedisStoreConfig{Address: "localhost:6379"},
//	})
//
//	err = storage.Update(ctx, store, "quota:example.com", storage.UpdateOptions{TTL: time.Minute},
//	    func(current []byte) ([]byte, bool, error) {
//	        return next, true, nil
//	    })
//
// # Errors
//
// Backend I/O failures are returned as *UnavailableError, which matches
// ErrUnavailable with errors.Is. The failover coordinator counts those and
// falls back to local state; they never reach callers of the governor.
package storage
