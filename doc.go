// Package swcache implements an offline cache manager for a static site: the
// service-worker contract (install, activate, fetch, sync, push) expressed as a
// Go library over pluggable byte stores.
//
// Components:
//   - CacheStorage / Store: named cache stores mapping request identity to a
//     response record, built on a provider.Provider (Ristretto, BigCache, Redis, SQLite).
//   - Codec[Record]: (de)serializes stored records (msgpack by default).
//   - GenStore: generation counter per store name. Deleting a store bumps it, so
//     records written under an older generation read as a miss and self-heal.
//   - Worker: lifecycle + fetch routing + submission queue + push relay.
//
// Keys:
//
//	<ns>:stores                 - registry of store names
//	<ns>:index:<store>          - keys held by one store
//	<ns>:entry:<store>:<req>    - one request/response record
//
// Routing:
//
//	navigation (Sec-Fetch-Mode: navigate, or Accept: text/html) -> network-first,
//	    falling back to the cached copy, then to the offline page
//	everything else                                             -> cache-first
package swcache
