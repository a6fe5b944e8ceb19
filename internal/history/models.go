package history

// Run is one recorded assignment run.
type Run struct {
	ID                int64
	Prefix            string
	Version           string
	BatchPath         string
	StartedAt         string
	FinishedAt        *string
	Status            string // "running", "completed", "failed"
	RowsInBatch       int
	PlacedCount       int
	BelowQCCount      int
	AlreadyNamedCount int
	ChangedCount      int
	ErrorMessage      *string
}
