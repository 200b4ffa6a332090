// Package remoteflow loads remotely defined UI flows and tracks each load
// through a small state machine:
//
//	idle -> loading -> loaded -> dismissed
//	                \-> failed
//
// A Controller allows one in-flight load per flow identifier. Every Handle
// reports its load outcome exactly once through a LoadHandler and, once
// loaded, its dismissal exactly once through a DismissalHandler. The load
// handler always returns before the dismissal handler starts.
package remoteflow
