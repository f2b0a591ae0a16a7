package memory

// Kind categorizes a memory record.
type Kind string

const (
	KindObservation Kind = "observation"
	KindReflection  Kind = "reflection"
	KindPlan        Kind = "plan"
)

// ArtifactRef points at a creative artifact produced by an external
// generation job. It is attached to a record after the job completes.
type ArtifactRef struct {
	Kind     string `json:"kind"` // image|music|websim
	Location string `json:"location"`
	JobID    string `json:"job_id"`
}

// Record is one atomic unit of an agent's experience. Records are
// immutable after append except for LastAccessTick, which retrieval
// bumps, and Artifact, which the dispatcher sets once.
type Record struct {
	ID             int64        `json:"id"`
	Kind           Kind         `json:"kind"`
	Content        string       `json:"content"`
	CreatedAtTick  int64        `json:"created_at_tick"`
	LastAccessTick int64        `json:"last_access_tick"`
	Importance     float64      `json:"importance"`
	Embedding      []float32    `json:"embedding,omitempty"`
	References     []int64      `json:"references,omitempty"`
	Artifact       *ArtifactRef `json:"artifact,omitempty"`
}
