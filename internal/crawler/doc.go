// Package crawler implements the character crawl: listing parsing, the
// per-record state machine that sequences detail and sub-page fetches, and
// the engine that emits completed records to a CharacterStore.
//
// A record moves LISTED -> DETAIL_FETCHED -> FALLBACK_PENDING -> COMPLETE.
// Each record travels through the task queue inside an InFlight value that
// owns its fill state and outstanding fallback count, so fallback tasks for
// the same record may run on different workers.
package crawler
