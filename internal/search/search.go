package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	Snippet    string `json:"snippet"`
	State      string `json:"state"`
	Department string `json:"department"`
	Year       string `json:"year"`
	Validated  bool   `json:"validated"`
}

// Query describes a search request over uploaded files.
type Query struct {
	Text             string
	FilterState      string
	FilterDepartment string
	FilterYear       string
	ValidatedOnly    bool
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push file records into a search index.
type Indexer interface {
	IndexFile(f FileRecord) error
	DeleteFile(id string) error
}

// FileRecord is the data we index for an uploaded file. MetadataText is the
// flattened metadata of the extraction document, so field values are
// searchable without exposing document structure to the index.
type FileRecord struct {
	ID           string `json:"id"`
	FileName     string `json:"fileName"`
	State        string `json:"state"`
	Department   string `json:"department"`
	Year         string `json:"year"`
	Status       string `json:"status"`
	Validated    bool   `json:"validated"`
	MetadataText string `json:"metadataText"`
}
