package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-switch/internal/audit"
)

// handleListAudit returns paginated audit entries with optional filters.
//
// Query parameters:
//   - request_id, action, room: exact match
//   - outcome: success or failure
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		RequestID: q.Get("request_id"),
		Action:    q.Get("action"),
		Room:      q.Get("room"),
		Outcome:   q.Get("outcome"),
	}
	if filter.Outcome != "" && filter.Outcome != audit.OutcomeSuccess && filter.Outcome != audit.OutcomeFailure {
		writeBadRequest(w, "outcome must be success or failure")
		return
	}

	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit")); !ok {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, ok = intParam(q.Get("offset")); !ok {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query value. Empty yields zero.
func intParam(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
