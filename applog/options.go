package applog

import "time"

// DurabilityMode controls when Append forces data to stable storage.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every Append. This is the original
	// append-log's behavior and the default here.
	DurabilitySync DurabilityMode = iota
	// DurabilityGroupCommit batches fsyncs, flushing on a timer or once
	// GroupCommitMaxOps appends have accumulated.
	DurabilityGroupCommit
)

// Options configures a Log.
type Options struct {
	// Path is the file the log is stored at. Required.
	Path string

	// DurabilityMode selects the fsync policy for Append. Commit always
	// calls Sync explicitly regardless of this setting.
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time an Append may wait for a
	// background fsync when DurabilityMode is DurabilityGroupCommit.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps forces an immediate fsync once this many appends
	// have accumulated since the last one, when DurabilityMode is
	// DurabilityGroupCommit.
	GroupCommitMaxOps int
}

// DefaultOptions mirrors the original append-log's synchronous-flush
// behavior: every append is followed by an fsync.
var DefaultOptions = Options{
	DurabilityMode:      DurabilitySync,
	GroupCommitInterval: 5 * time.Millisecond,
	GroupCommitMaxOps:   64,
}
