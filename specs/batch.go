package specs

// OffsetRangeSpec is the slice of one source partition a batch was read from.
//
// The range is half-open: FromOffset is the first message in the batch and
// UntilOffset the position the next batch starts at. Committing a range means
// "everything before UntilOffset has been published".
type OffsetRangeSpec struct {
	Topic       string `json:"topic"`
	Partition   int    `json:"partition"`
	FromOffset  int64  `json:"from_offset"`
	UntilOffset int64  `json:"until_offset"`
}

// BatchSpec is one unit of work for the aggregation core.
type BatchSpec struct {
	// Opaque identifier used in logs and lifecycle events.
	ID string `json:"id"`

	Records []RawUsageRecordSpec `json:"records"`

	// One range per source partition the records were drawn from.
	Offsets []OffsetRangeSpec `json:"offsets"`
}
