package entitle

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - callers should gracefully handle nil metrics
// by substituting NoopMetrics.
type Metrics interface {
	// RecordEvent records one processed inbound event.
	// status: the Result status string ("applied", "duplicate", "stale",
	// "ignored", "failed")
	RecordEvent(provider, eventType, status string)

	// RecordProcessingDuration records end-to-end pipeline latency for one event.
	RecordProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordError records a pipeline error.
	// errorType: e.g. "auth_failed", "invalid_payload", "commit_failed",
	// "provision_failed", "provision_defect"
	RecordError(provider, errorType string)

	// RecordTransition records a committed status transition.
	RecordTransition(provider, fromStatus, toStatus string)

	// RecordProvisioning records one provisioning attempt outcome.
	// status: "success", "retry", "permanent_failure"
	RecordProvisioning(provider, actionKind, status string)

	// RecordConflictRetry records one compare-and-swap conflict that forced
	// a reload-and-recompute pass.
	RecordConflictRetry(provider string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvent(_, _, _ string)                                {}
func (n *NoopMetrics) RecordProcessingDuration(_, _ string, _ time.Duration)     {}
func (n *NoopMetrics) RecordError(_, _ string)                                   {}
func (n *NoopMetrics) RecordTransition(_, _, _ string)                           {}
func (n *NoopMetrics) RecordProvisioning(_, _, _ string)                         {}
func (n *NoopMetrics) RecordConflictRetry(_ string)                              {}
