// Package storage keeps an append-only audit trail of notification
// deliveries and monitoring cycles.
//
// Nothing the monitor needs to run is read back from storage: identity,
// channel cache and schedule state are rebuilt on every start. The trail
// exists for operators (status tools, post-mortems).
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file":   JSON Lines files next to Path
//   - "none" or empty: storage disabled, Open returns (nil, nil)
package storage
