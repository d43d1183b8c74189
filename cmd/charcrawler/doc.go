// Package main runs one wiki character crawl to completion.
//
// Architecture overview:
//   - Listing: the engine fetches the configured listing page and parses the
//     first wikitable into skeletal records (name, episode, chapter, year, note).
//   - Dispatcher & queue: each admitted record becomes a detail task on a bounded
//     in-memory queue drained by a fixed worker pool (crawler.concurrency). At most
//     crawler.max_in_flight records are between listing and storage at once, and
//     crawler.queue_depth must be at least twice that so fallback tasks never block.
//   - Extraction: detail pages are searched for the Appearance, Personality and
//     Abilities_and_Powers sections; missing ones are retried on the character's
//     sub-pages. A record is stored once every fallback has resolved.
//   - Persistence & fanout: normalized characters are upserted into Postgres (or
//     kept in memory when db.dsn is empty). Fetched pages can be archived to
//     memory, a local directory or GCS, and a Pub/Sub event is published per stored
//     character when pubsub.topic_name is set.
//   - Politeness: colly limit rules plus a per-host token bucket throttle fetches;
//     robots.txt is honored unless crawler.ignore_robots is set.
//   - Observability: zap logs, Prometheus metrics, and progress events batched to
//     log and metric sinks. With Postgres configured each run is also recorded in
//     crawl_runs. tracing.enabled wraps every task in an OpenTelemetry span.
//     server.addr enables /healthz, /readyz, /metrics, /v1/summary and /v1/runs
//     while the crawl runs.
//
// Exit status is non-zero when configuration is invalid, a backend cannot be
// initialized, or the listing page cannot be fetched or parsed. Per-record
// failures are logged and counted in the final summary.
//
// Quick checklist:
//   - Configure via file (-config crawl.yaml) or CRAWLER_* env vars, e.g.
//     CRAWLER_DB_DSN, CRAWLER_CRAWLER_MAX_RECORDS, CRAWLER_STORAGE_BACKEND.
//   - Run locally: go run ./cmd/charcrawler -config crawl.yaml
package main
