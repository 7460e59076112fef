// Governor is an admission controller for fleets of scraping workers.
//
// Every worker asks the governor for permission before contacting an
// upstream source. Permits are paid for from a per-source token bucket
// and refused while the source's circuit breaker is open; state is shared
// by all workers through a store (memory, SQLite, Postgres or Redis), with
// local fallback while that store is unreachable.
//
// Usage:
//
//	# Start the coordinator, config watcher and ops server
//	governor run --config governor.yaml
//
//	# Validate configuration, including per-source overrides
//	governor validate --config governor.yaml
//
//	# Show bucket and breaker state of sources
//	governor inspect api.example.com cdn.example.com
//
//	# Clear a source's breaker
//	governor reset api.example.com
//
//	# Show version information
//	governor version
package main

import "os"

func main() {
	os.Exit(Execute())
}
