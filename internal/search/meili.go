package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxFiles = "proofbox_files"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the file index.
// The service starts unhealthy if the initial connection fails and recovers
// through the background health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxFiles,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxFiles, err)
	}

	index := m.client.Index(idxFiles)

	filterable := []string{"state", "department", "year", "status", "validated"}
	filterableInterface := make([]interface{}, len(filterable))
	for i, v := range filterable {
		filterableInterface[i] = v
	}
	if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxFiles, err)
	}

	searchable := []string{"fileName", "metadataText", "state", "department"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxFiles, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the file index with filters and highlighted snippets.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		ShowRankingScore:      true,
	}

	var filters []string
	if q.FilterState != "" {
		filters = append(filters, fmt.Sprintf("state = %q", q.FilterState))
	}
	if q.FilterDepartment != "" {
		filters = append(filters, fmt.Sprintf("department = %q", q.FilterDepartment))
	}
	if q.FilterYear != "" {
		filters = append(filters, fmt.Sprintf("year = %q", q.FilterYear))
	}
	if q.ValidatedOnly {
		filters = append(filters, "validated = true")
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxFiles).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}

	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:         decodeString(hit, "id"),
		FileName:   firstNonBlank(decodeFormattedString(hit, "fileName"), decodeString(hit, "fileName")),
		Snippet:    decodeFormattedString(hit, "metadataText"),
		State:      decodeString(hit, "state"),
		Department: decodeString(hit, "department"),
		Year:       decodeString(hit, "year"),
	}
	if raw, ok := hit["validated"]; ok {
		_ = json.Unmarshal(raw, &r.Validated)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	if s, ok := formatted[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexFile adds or updates a file record in the search index.
func (m *Meili) IndexFile(f FileRecord) error {
	_, err := m.client.Index(idxFiles).AddDocuments([]FileRecord{f}, nil)
	return err
}

// DeleteFile removes a file record from the search index.
func (m *Meili) DeleteFile(id string) error {
	_, err := m.client.Index(idxFiles).DeleteDocument(id, nil)
	return err
}

// IndexFiles bulk-indexes file records.
func (m *Meili) IndexFiles(files []FileRecord) error {
	if len(files) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFiles).AddDocuments(files, nil)
	return err
}
