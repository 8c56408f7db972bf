// Package testutil provides test doubles shared across packages: a fake
// clock, an in-memory source-of-record and a recording index wrapper.
package testutil
