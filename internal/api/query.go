package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// queryRowLimit caps ad-hoc query results.
const queryRowLimit = 200

// writeKeywordRe matches statement forms the read endpoint refuses
// outright.
var writeKeywordRe = regexp.MustCompile(
	`(?i)\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum|reindex)\b`)

// starOverFrames matches projections that would drag the thumbnail blob
// into a text result: bare `*` or a frames-alias `x.*` in a query that
// touches the frames table.
var starOverFrames = regexp.MustCompile(`(?i)select\s+(\*|\w+\.\*)`)

// ValidateReadQuery vets an ad-hoc query for the read endpoint: a
// single SELECT, no write verbs, and no projection that would include
// the panorama_thumbnail blob.
func ValidateReadQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "select") {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	if i := strings.Index(trimmed, ";"); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return fmt.Errorf("multiple statements are not allowed")
	}
	if m := writeKeywordRe.FindString(lower); m != "" {
		return fmt.Errorf("keyword %q is not allowed", m)
	}
	if strings.Contains(lower, "panorama_thumbnail") {
		return fmt.Errorf("panorama_thumbnail cannot be selected; use the thumbnail endpoint")
	}
	if strings.Contains(lower, "frames") && starOverFrames.MatchString(trimmed) {
		return fmt.Errorf("SELECT * over frames is not allowed; name the columns instead")
	}
	return nil
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Count   int        `json:"count"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidateReadQuery(req.Query); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	cols, rows, err := s.store.ReadQuery(req.Query, queryRowLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Query failed: %v", err))
		return
	}

	json.NewEncoder(w).Encode(queryResponse{Columns: cols, Rows: rows, Count: len(rows)})
}
