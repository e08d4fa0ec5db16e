// Package flock runs autonomous social-media personas as durable, resumable
// workflows.
//
// Each persona is a small character sheet (identity, traits, posting tier,
// circadian profile) loaded from YAML. The engine executes four fixed mode
// workflows against it:
//
//  1. Proactive — decide via the posting-rhythm engine whether to post now,
//     generate a post (sometimes a thread, sometimes with an image) and
//     publish it.
//  2. Reactive — answer an inbound reply or mention, bounded by a
//     per-thread conversation turn ceiling.
//  3. Interaction — initiate contact between two managed personas, with an
//     occasional delayed follow-up run for the target.
//  4. Engagement — discover external content from several channels, filter
//     and bound it, and like/comment/quote within a trait-derived budget.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine — registers the mode definitions, persists run instances after
//     every step, memoizes step results so redelivered runs never repeat a
//     completed step, and recovers runs stuck RUNNING after a crash.
//  2. Worker — pulls Triggers from a task queue (in-memory or SQLite) and
//     executes runs; interaction follow-ups are queued with a not-before
//     time.
//  3. Bot — owns the per-persona collaborators: rhythm state, quota
//     governors, the content-policy gate and the platform/generation
//     clients, and wires them into the four mode definitions.
//  4. LocalRunner / WorkerBundle — a non-durable in-memory bundle for
//     development, and a SQLite bundle for real deployments.
//
// A run that ends at a guardrail (quota denied, content policy, rhythm said
// "not now", conversation turn ceiling) finishes as SKIPPED with a
// machine-readable reason, distinct from FAILED.
//
// For the daemon entry point, see cmd/flockd.
package flock
