/*
Package types defines the entry model and the contracts shared by every tiercache component.

	┌─────────────────────────────────────────────┐
	│           Application code                  │
	│   (domain wrappers: pricing, location)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              cache.Engine                   │
	│   get/set, invalidate, warm, optimize       │
	└─────────────────────────────────────────────┘
	          │              │              │
	┌─────────┴───┐ ┌────────┴─────┐ ┌──────┴──────┐
	│   Memory    │ │  Persistent  │ │   Network   │
	│ TierProvider│ │ TierProvider │ │    stub     │
	└─────────────┘ └──────┬───────┘ └─────────────┘
	                       │
	               ┌───────┴───────┐
	               │   Substrate   │
	               │ file / sqlite │
	               │    / redis    │
	               └───────────────┘

CacheEntry is the unit stored in every tier. An entry is expired exactly when the current time is
after CreatedAt+TTL; no component relies on a background sweep for correctness.

TierProvider is the mandatory contract. Tiers advertise extra capabilities through the optional
Toucher, Updater, ConditionalDeleter and KeyLister interfaces, which the engine discovers with type
assertions.
*/
package types
