package resource

// Result is how one resource pipeline ended.
type Result int

const (
	// ResultSucceeded: fetched and every processor completed.
	ResultSucceeded Result = iota
	// ResultUnchanged: fetched, checksum matched the last success, processors skipped.
	ResultUnchanged
	// ResultNotModified: the fetcher reported no new content.
	ResultNotModified
	// ResultFailed: the fetcher or a processor failed.
	ResultFailed
	// ResultCancelled: the run was cancelled mid-pipeline; nothing is persisted.
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultUnchanged:
		return "unchanged"
	case ResultNotModified:
		return "not_modified"
	case ResultFailed:
		return "failed"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
