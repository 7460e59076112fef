// Package failover keeps admission control working while the shared
// state store is degraded.
//
// A Coordinator probes the shared store with a set+get round trip on
// "health:{instance}". After FailThreshold consecutive errors, counting
// probes and request-path calls alike, the whole process switches to
// LocalFallback and serves every quota and breaker operation from an
// in-process MemoryStore using the same keys and algorithms.
//
// While in LocalFallback probing continues. After RecoverThreshold
// consecutive successful probes the coordinator reconciles: each key
// written locally during the outage overwrites its shared counterpart
// (local state wins), and the process returns to Shared.
//
// Processes detect outages and recover independently. During an outage
// each one enforces its own limits, so a fleet may briefly admit more
// than one shared bucket would.
package failover
