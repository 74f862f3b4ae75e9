// Package domain provides typed caches for the booking application's lookups. The wrappers fix
// category, TTL and key derivation and hold no storage logic of their own.
package domain
