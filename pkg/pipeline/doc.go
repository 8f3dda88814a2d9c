// Package pipeline runs a counting job over a list of region files.
//
// Files are taken one at a time in listing order. Each passes the memory gate,
// is counted by the chunk executor and, only when every chunk column reported
// back, is merged into the running total and checkpointed. A stop request is
// honoured between files and inside the current file; an interrupted file
// contributes nothing and is retried in full on the next run.
//
//	INIT -> SELECT_NEXT -> GATE -> RUN_FILE -> MERGE_AND_CHECKPOINT -> SELECT_NEXT
//	SELECT_NEXT (none left) -> FINALIZE -> DONE
//	SELECT_NEXT / GATE / RUN_FILE (stopped) -> ABORTED
package pipeline
