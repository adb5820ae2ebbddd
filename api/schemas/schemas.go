package schemas

// -- Query Output Schemas --

// Match describes one element returned by a query.
type Match struct {
	Index int    `json:"index"`
	Node  string `json:"node"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
	// XPath is only reported by drivers that can compute a location path.
	XPath string `json:"xpath,omitempty"`
}

// FindResult is the document printed by `domquery find --output json`.
type FindResult struct {
	SessionID string  `json:"session_id"`
	Backend   string  `json:"backend"`
	Query     string  `json:"query"`
	Traversal string  `json:"traversal,omitempty"`
	Count     int     `json:"count"`
	Matches   []Match `json:"matches"`
}
