// Package notify receives lifecycle events from the source-of-record.
//
// Two intakes share one Validator: an HTTP endpoint (POST /events) for
// push delivery and a websocket Subscriber for stream delivery. Both
// validate each event against an embedded JSON schema before handing it to
// a Submitter, usually a syncer.Dispatcher. Delivery is at-most-once: an
// event lost on a dropped connection is repaired by the next
// reconciliation pass, not retried here.
package notify
