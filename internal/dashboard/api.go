package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/approval"
	"github.com/tkingovr/adminsync/internal/mutation"
	"github.com/tkingovr/adminsync/internal/policy"
	"github.com/tkingovr/adminsync/internal/view"
)

type approvalView struct {
	approval.Request
	Age time.Duration
}

// mutationResponse is the JSON answer to a mutation request.
type mutationResponse struct {
	Outcome api.Outcome   `json:"outcome"`
	Message string        `json:"message,omitempty"`
	Item    *api.Resource `json:"item,omitempty"`
	Error   string        `json:"error,omitempty"`
	Kind    string        `json:"kind,omitempty"`
}

// checkRequest is a policy dry-run.
type checkRequest struct {
	Resource  string         `json:"resource"`
	Operation string         `json:"operation"`
	TargetID  string         `json:"target_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAPIResources(w http.ResponseWriter, r *http.Request) {
	snaps := []view.Snapshot{}
	for _, v := range s.views.All() {
		snaps = append(snaps, v.Snapshot())
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleAPIResource returns one view. Query parameters are applied the
// same way as on the list page.
func (s *Server) handleAPIResource(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	if patches := parseQuery(v.Def(), values); len(patches) > 0 {
		v.SetFilter(r.Context(), patches...)
	}
	if page, err := strconv.Atoi(values.Get("page")); err == nil {
		v.SetPage(r.Context(), page)
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleAPIMutation applies one mutation request. For resources that
// need delete confirmation the call blocks until the request is answered
// or times out.
func (s *Server) handleAPIMutation(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req api.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Resource == "" {
		req.Resource = v.Name()
	}

	res, err := v.Coordinator().Apply(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, mutationResponse{Outcome: res.Outcome, Message: res.Message, Item: res.Item})
	case errors.Is(err, mutation.ErrNotConfirmed):
		writeJSON(w, http.StatusConflict, mutationResponse{Outcome: api.OutcomeCancelled, Error: err.Error()})
	default:
		var apiErr *api.Error
		if !errors.As(err, &apiErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, outcome := http.StatusBadGateway, api.OutcomeFailure
		switch apiErr.Kind {
		case api.KindValidation:
			status, outcome = http.StatusUnprocessableEntity, api.OutcomeInvalid
		case api.KindUnauthenticated:
			status, outcome = http.StatusUnauthorized, api.OutcomeUnauthenticated
		}
		writeJSON(w, status, mutationResponse{Outcome: outcome, Error: api.UserMessage(err), Kind: apiErr.Kind.String()})
	}
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := api.QueryFilter{
		Resource: q.Get("resource"),
		Kind:     api.MutationKind(q.Get("kind")),
		Outcome:  api.Outcome(q.Get("outcome")),
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		filter.Since = t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		filter.Until = t
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	records, err := s.history.Query(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to query history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*api.MutationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPINotices(w http.ResponseWriter, r *http.Request) {
	notices := []api.Notice{}
	if s.notices != nil {
		if r.URL.Query().Get("all") != "" {
			notices = append(notices, s.notices.Recent(100)...)
		} else {
			notices = append(notices, s.notices.Active()...)
		}
	}
	writeJSON(w, http.StatusOK, notices)
}

// handleAPICheck evaluates validation rules without calling the backend.
func (s *Server) handleAPICheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if s.validator == nil {
		writeJSON(w, http.StatusOK, policy.EvalResult{Verdict: policy.VerdictAllow, Rule: "_default"})
		return
	}

	result, err := s.validator.Evaluate(r.Context(), &policy.EvalInput{
		Resource:  req.Resource,
		Operation: req.Operation,
		TargetID:  req.TargetID,
		Payload:   req.Payload,
	})
	if err != nil {
		http.Error(w, "evaluation error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
