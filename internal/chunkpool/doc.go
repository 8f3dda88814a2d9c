// Package chunkpool splits a region file into its 32x32 chunk columns and counts
// them on a bounded pool of goroutines.
//
// Every column is a SubTask with a private result, so a corrupt chunk or a
// panicking decoder costs only that column. Results are folded by the calling
// goroutine after all SubTasks report back; a cancelled run returns what it had
// with Complete=false and the caller discards it.
package chunkpool
