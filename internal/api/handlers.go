package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

type createDataSourceRequest struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

func (s *Server) listDataSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ws.DataSources(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) createDataSource(w http.ResponseWriter, r *http.Request) {
	var req createDataSourceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.URI == "" {
		s.fail(w, r, &core.ValidationError{Path: "uri", Problems: []string{"uri is required"}})
		return
	}
	ds, err := s.ws.CreateDataSource(r.Context(), req.URI, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) getDataSource(w http.ResponseWriter, r *http.Request) {
	ds, err := s.ws.DataSource(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) deleteDataSource(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.DeleteDataSource(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deployRequest struct {
	Statistics bool `json:"statistics"`
}

type deployResponse struct {
	DataSource       string                      `json:"datasource"`
	Dropped          []string                    `json:"dropped"`
	Materialized     map[string]int64            `json:"materialized"`
	Categories       map[string]map[string][]any `json:"categories,omitempty"`
	StatisticsErrors []string                    `json:"statistics_errors,omitempty"`
	DurationMS       int64                       `json:"duration_ms"`
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.ws.Deploy(r.Context(), chi.URLParam(r, "name"), deploy.Options{Statistics: req.Statistics})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := deployResponse{
		DataSource:   report.DataSource,
		Dropped:      report.Dropped,
		Materialized: report.Materialized,
		Categories:   report.Categories,
		DurationMS:   report.Duration.Milliseconds(),
	}
	for _, e := range report.StatisticsErrors {
		resp.StatisticsErrors = append(resp.StatisticsErrors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.ws.Layer(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layer.Snapshot())
}

// acceptLayer persists the in-memory layer, replacing the files on disk.
func (s *Server) acceptLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.ws.Layer(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := layer.Dump(true); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layer.Snapshot())
}

// rejectLayer discards in-memory edits.
func (s *Server) rejectLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.ws.Layer(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := layer.Reject(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layer.Snapshot())
}

type copyLayerRequest struct {
	From string `json:"from"`
	// Accept persists the copy instead of leaving it in memory
	Accept bool `json:"accept"`
}

func (s *Server) copyLayer(w http.ResponseWriter, r *http.Request) {
	var req copyLayerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.From == "" {
		s.fail(w, r, &core.ValidationError{Path: "from", Problems: []string{"from is required"}})
		return
	}
	layer, err := s.ws.CopyLayer(req.From, chi.URLParam(r, "name"), req.Accept)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layer.Snapshot())
}

type refineRequest struct {
	Publish bool `json:"publish"`
}

func (s *Server) refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.ws.Refine(r.Context(), chi.URLParam(r, "name"), catalog.RefineOptions{Publish: req.Publish})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type chatResponse struct {
	ID         string `json:"id"`
	DataSource string `json:"datasource"`
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	threads, err := s.ws.Chats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.ws.NewChat(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse{ID: c.ID(), DataSource: c.DataSource()})
}

func (s *Server) chatMessages(w http.ResponseWriter, r *http.Request) {
	c, err := s.ws.Chat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	messages, err := c.Messages(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type promptRequest struct {
	Text    string `json:"text"`
	OnlySQL bool   `json:"only_sql,omitempty"`
	Fuzz    bool   `json:"fuzz,omitempty"`
	// Retries defaults to pipeline.DefaultRetries when omitted
	Retries *int `json:"retries,omitempty"`
}

type promptResponse struct {
	Response *core.Response  `json:"response"`
	Metric   string          `json:"metric,omitempty"`
	Note     string          `json:"note,omitempty"`
	Trace    []pipeline.Step `json:"trace"`
}

func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Text == "" {
		s.fail(w, r, &core.ValidationError{Path: "text", Problems: []string{"text is required"}})
		return
	}
	opts := pipeline.Options{OnlySQL: req.OnlySQL, Fuzz: req.Fuzz, Retries: pipeline.DefaultRetries}
	if req.Retries != nil {
		opts.Retries = *req.Retries
	}

	c, err := s.ws.Chat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, st, err := c.Prompt(r.Context(), req.Text, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Response: resp, Metric: st.Plan.Metric, Note: st.Note, Trace: st.Trace})
}

type feedbackRequest struct {
	Sentiment core.Sentiment `json:"sentiment"`
	Reason    string         `json:"reason,omitempty"`
}

type feedbackResponse struct {
	Feedback    *core.Feedback        `json:"feedback"`
	Refinement  *catalog.RefineResult `json:"refinement,omitempty"`
	RefineError string                `json:"refine_error,omitempty"`
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	fb, err := s.ws.RecordFeedback(r.Context(), chi.URLParam(r, "id"), req.Sentiment, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := feedbackResponse{Feedback: fb}
	if s.autoRefine && fb.Sentiment == core.SentimentNegative {
		result, err := s.ws.Refine(r.Context(), fb.DataSource, catalog.RefineOptions{Publish: true})
		if err != nil {
			s.logger.Warn("refine after negative feedback failed", slog.String("datasource", fb.DataSource), slog.String("error", err.Error()))
			resp.RefineError = err.Error()
		}
		resp.Refinement = result
	}
	writeJSON(w, http.StatusCreated, resp)
}
