package models

// QueryRequest is a question with optional exact-match filters.
type QueryRequest struct {
	Question   string `json:"question"`
	Ticker     string `json:"ticker,omitempty"`
	FilingType string `json:"filing_type,omitempty"`
	FilingYear int    `json:"filing_year,omitempty"`
}

// Filter returns the request's filters as a ChunkFilter.
func (r QueryRequest) Filter() ChunkFilter {
	return ChunkFilter{Ticker: r.Ticker, FilingType: r.FilingType, FilingYear: r.FilingYear}
}

// Citation points at a passage that supported the answer.
type Citation struct {
	ChunkID     string  `json:"chunk_id"`
	Ticker      string  `json:"ticker"`
	FilingType  string  `json:"filing_type"`
	FilingYear  int     `json:"filing_year"`
	Section     string  `json:"section"`
	HeadingPath string  `json:"heading_path,omitempty"`
	Excerpt     string  `json:"excerpt"`
	Score       float64 `json:"score"`
}

// QueryResponse is a grounded answer.
type QueryResponse struct {
	Answer       string     `json:"answer"`
	Citations    []Citation `json:"citations"`
	CostUSD      float64    `json:"cost_usd"`
	LatencyMS    int64      `json:"latency_ms"`
	Faithfulness float64    `json:"faithfulness"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
}
