// Package mover archives processed region files.
//
// Paths are pulled from a shared queue by up to 100 goroutines. There is no
// checkpoint and no ordering; a missing or unmovable file is counted as failed
// and the rest carry on.
package mover
