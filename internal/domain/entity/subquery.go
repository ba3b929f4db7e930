package entity

// SubQuery is one llm_query/llm_query_batched request from sandboxed
// code, already unwrapped from the wire protocol, waiting to be
// serviced by the Sub-LLM Gateway.
type SubQuery struct {
	Instruction   string
	Content       string
	ModelOverride string
}

// SubQueryResult is the outcome of one SubQuery.
type SubQueryResult struct {
	Response     string
	TokensUsed   int
	SizeRejected bool
	Error        string
}
