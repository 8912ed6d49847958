// Package shell translates between the pipeline's domain events and queue events, and
// retries work that failed on a transient store error.
//
// This is the imperative shell around package core: it knows how payloads are serialized
// and which errors are worth retrying, core does not.
package shell
