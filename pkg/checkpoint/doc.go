// Package checkpoint persists the progress of a counting run.
//
// A Checkpoint lists the region files whose counts are already folded into its
// aggregate. The Store rewrites it after every completed file using a temp file,
// fsync and rename, so a crash leaves either the old or the new state on disk and
// never a torn file. The file is JSON:
//
//	{
//	  "version": 1,
//	  "processed_files": ["/world/region/r.0.0.mca"],
//	  "block_count": {"stone": 81234, "deepslate": 4410},
//	  "updated_at": "2026-01-02T15:04:05Z"
//	}
//
// Load distinguishes a missing file (fresh start) from a corrupt one, which is
// reported as errors.ErrCorruptState.
package checkpoint
