// Package entitle reconciles a payment provider's webhook event stream with
// internal entitlement state. Events are deduplicated, run through a pure
// subscription state machine with a stale-event guard, committed with
// per-record optimistic concurrency, and provisioned through idempotent
// side effects, so at-least-once delivery yields exactly-once-in-effect
// state changes.
package entitle
