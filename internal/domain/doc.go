// Package domain models weather observations collected per entity (a city)
// and the bookkeeping of a collection run.
//
// # Entities
//
// An entity key is an opaque, stable string such as "Moscow,ru". It is passed
// verbatim to the data source as the location query and doubles as the
// partition key for deduplication in the store. Keys are trimmed and
// deduplicated by [NormalizeKeys] before a run fans out, so every key has
// exactly one outcome per run.
//
// # Observations
//
// A fetch yields an [ObservationDraft]. The store turns a draft into an
// [Observation] by assigning a surrogate ID and a server-side CreatedAt. The
// freshness window is measured against CreatedAt, never against fetch time,
// so upstream latency does not shift the window.
//
// Optional upstream fields (humidity, pressure, wind speed, cloud cover) are
// pointers. A nil pointer means the source did not report the value, which
// is distinct from a reported zero.
//
// Temperature is rounded half away from zero to one decimal when the draft is
// normalized for writing: 2.25 → 2.3, -3.25 → -3.3.
//
// # Failures
//
// Per-entity fetch failures are [*FetchFailure] values with one of four
// kinds (unauthorized, upstream_error, timeout, transport). Store failures
// are [*StoreError]. Neither aborts a run; both become an [EntityOutcome].
//
// # Freshness
//
// A [Decision] is either Accept or Skip. A Skip carries the measured age of
// the last stored observation and that observation, for reporting.
//
// The window is advisory: the gate reads, decides, and the caller writes, so
// two runs racing on one key could both insert. The pipeline closes this gap
// by holding a per-entity lock across the read and the write.
package domain
