// Package device provides the device directory, snapshot cache and
// room-aware resolver for the switch skill.
//
// # Architecture
//
//	┌──────────────┐  Get/Refresh   ┌──────────────┐  FetchAll  ┌────────────────┐
//	│   Resolver   │ ─────────────▶ │    Cache     │ ─────────▶ │   Directory    │
//	│ (resolver.go)│                │  (cache.go)  │            │ (directory.go) │
//	│              │                │              │            │                │
//	│ • room first │                │ • atomic swap│            │ • SQLite table │
//	│ • ambiguity  │                │ • one load   │            │   switch_devices│
//	└──────────────┘                └──────────────┘            └────────────────┘
//
// # Key Types
//
//   - Device: a switchable endpoint (topic, alias, room, on/off payloads)
//   - Snapshot: an immutable index of all devices by room and alias
//   - Cache: lazily loaded, refreshable holder of the current Snapshot
//   - Resolver: maps a spoken name and room hint to devices
//   - Failure: the closed set of request failures (see FailureKind)
//
// # Usage
//
//	dir := device.NewSQLiteDirectory(db.DB)
//	cache := device.NewCache(dir)
//	cache.SetLogger(log)
//
//	resolver := device.NewResolver(cache)
//	devices, err := resolver.Resolve(ctx, device.Query{Name: "coffee maker", Room: "bedroom"})
//	switch device.KindOf(err) {
//	case device.FailureAmbiguous:
//	    // ask which one
//	}
//
// # Thread Safety
//
// Cache and Resolver are safe for concurrent use. Snapshots are immutable.
// A refresh never blocks readers; it serialises only with other loads.
package device
