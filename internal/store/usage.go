package store

// Usage records token accounting for one model call or compress
// operation. OperationType distinguishes a normal turn's usage from a
// compression summary's own usage, since both end up attached to
// messages in the same history.
type Usage struct {
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	CacheReadTokens     int
	CacheCreationTokens int
	Model               string
	OperationType       OperationType
}

// OperationType tags what kind of model call produced a Usage record.
type OperationType string

const (
	OperationTurn     OperationType = "turn"
	OperationCompress OperationType = "compress"
)

// Comprehensive returns the token count the compressor's threshold check
// is defined over: total generation tokens plus both cache dimensions.
func (u Usage) Comprehensive() int {
	return u.TotalTokens + u.CacheReadTokens + u.CacheCreationTokens
}
