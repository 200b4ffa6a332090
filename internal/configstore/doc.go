// Package configstore holds the process-wide key/value configuration used by
// the resolver. Values are a small tagged union (bool, int, double, string,
// null); the store keeps compiled-in defaults layered under remote overrides
// and swaps the merged view atomically whenever the sync process delivers a
// new document.
package configstore
