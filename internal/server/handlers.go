package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ghlabs/embedsrv/internal/embed"
	"github.com/ghlabs/embedsrv/internal/github"
	"github.com/ghlabs/embedsrv/internal/pipeline"
	"github.com/ghlabs/embedsrv/internal/provider"
)

const octetStream = "application/octet-stream"

type embedRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type embedResponse struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding"`
}

type bulkRequest struct {
	Repo  string `json:"repo"`
	Full  bool   `json:"full"`
	State string `json:"state"`
}

type bulkResponse struct {
	Repo        string                `json:"repo"`
	RunID       int64                 `json:"run_id"`
	Model       string                `json:"model"`
	Dimensions  int                   `json:"dimensions"`
	IssuesSeen  int                   `json:"issues_seen"`
	Embedded    int                   `json:"embedded"`
	Skipped     int                   `json:"skipped"`
	Failed      int                   `json:"failed"`
	NotModified bool                  `json:"not_modified,omitempty"`
	Duration    string                `json:"duration"`
	Errors      []pipeline.IssueError `json:"errors,omitempty"`
	Embeddings  []setEntryResponse    `json:"embeddings"`
}

type setEntryResponse struct {
	Number    int       `json:"number"`
	Embedding []float32 `json:"embedding"`
}

type setResponse struct {
	Repo       string             `json:"repo"`
	Model      string             `json:"model"`
	Dimensions int                `json:"dimensions"`
	Count      int                `json:"count"`
	Embeddings []setEntryResponse `json:"embeddings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"model":      s.deps.Service.Model(),
		"dimensions": s.deps.Service.Dimensions(),
	})
}

// handleEmbedText embeds a single (title, body) pair. The response is JSON by
// default; clients that accept application/octet-stream get the raw
// little-endian float32 vector instead.
func (s *Server) handleEmbedText(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	vec, err := s.deps.Service.EmbedText(r.Context(), req.Title, req.Body)
	if err != nil {
		s.writeEmbedError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), octetStream) {
		w.Header().Set("Content-Type", octetStream)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(embed.EncodeVector(vec))
		return
	}

	writeJSON(w, http.StatusOK, embedResponse{
		Model:      s.deps.Service.Model(),
		Dimensions: len(vec),
		Embedding:  vec,
	})
}

// handleBulkEmbed runs a full bulk embedding pass synchronously and returns
// the resulting embedding set plus per-issue errors. The run is bound to the
// request context, so a disconnecting client cancels it.
func (s *Server) handleBulkEmbed(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	owner, repoName, err := github.ParseRepo(req.Repo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Pipeline.Run(r.Context(), owner, repoName, pipeline.Options{
		Full:  req.Full,
		State: req.State,
	})
	if err != nil {
		s.deps.Logger.Error("bulk embed failed", "repo", req.Repo, "error", err)
		writeError(w, http.StatusBadGateway, "bulk embed failed: "+err.Error())
		return
	}

	model := s.deps.Service.Model()
	resp := bulkResponse{
		Repo:        result.Repo,
		RunID:       result.RunID,
		Model:       model,
		Dimensions:  s.deps.Service.Dimensions(),
		IssuesSeen:  result.IssuesSeen,
		Embedded:    result.Embedded,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
		NotModified: result.NotModified,
		Duration:    result.Duration.String(),
		Errors:      result.Errors,
		Embeddings:  []setEntryResponse{},
	}

	if repo, err := s.deps.Store.GetRepoByOwnerRepo(owner, repoName); err == nil {
		entries, err := s.deps.Store.GetEmbeddingsForRepo(repo.ID, model)
		if err != nil {
			s.deps.Logger.Error("loading embeddings failed", "repo", req.Repo, "error", err)
			writeError(w, http.StatusInternalServerError, "loading embeddings failed")
			return
		}
		resp.Embeddings = make([]setEntryResponse, len(entries))
		for i, e := range entries {
			resp.Embeddings[i] = setEntryResponse{Number: e.Number, Embedding: embed.DecodeVector(e.Embedding)}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetEmbeddings serves the stored embedding set of a repository,
// restricted to vectors computed with the current model version. Clients that
// accept application/octet-stream get the binary set format.
func (s *Server) handleGetEmbeddings(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	repoName := chi.URLParam(r, "repo")

	repo, err := s.deps.Store.GetRepoByOwnerRepo(owner, repoName)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown repository")
		return
	}

	model := s.deps.Service.Model()
	entries, err := s.deps.Store.GetEmbeddingsForRepo(repo.ID, model)
	if err != nil {
		s.deps.Logger.Error("loading embeddings failed", "repo", owner+"/"+repoName, "error", err)
		writeError(w, http.StatusInternalServerError, "loading embeddings failed")
		return
	}

	dims := s.deps.Service.Dimensions()
	if dims == 0 && len(entries) > 0 {
		dims = len(entries[0].Embedding) / 4
	}

	if strings.Contains(r.Header.Get("Accept"), octetStream) {
		setEntries := make([]embed.SetEntry, len(entries))
		for i, e := range entries {
			setEntries[i] = embed.SetEntry{Number: e.Number, Vector: e.Embedding}
		}
		w.Header().Set("Content-Type", octetStream)
		w.WriteHeader(http.StatusOK)
		if err := embed.WriteSet(w, dims, setEntries); err != nil {
			s.deps.Logger.Error("streaming embedding set failed", "repo", owner+"/"+repoName, "error", err)
		}
		return
	}

	resp := setResponse{
		Repo:       owner + "/" + repoName,
		Model:      model,
		Dimensions: dims,
		Count:      len(entries),
		Embeddings: make([]setEntryResponse, len(entries)),
	}
	for i, e := range entries {
		resp.Embeddings[i] = setEntryResponse{Number: e.Number, Embedding: embed.DecodeVector(e.Embedding)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeEmbedError maps embedding errors to HTTP status codes. Empty input is
// a client error, never a silent zero vector.
func (s *Server) writeEmbedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, embed.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "title and body are both empty")
	case errors.Is(err, provider.ErrRateLimit):
		writeError(w, http.StatusTooManyRequests, "embedding provider rate limited")
	case errors.Is(err, provider.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "embedding provider timed out")
	case errors.Is(err, embed.ErrDimensionMismatch):
		writeError(w, http.StatusBadGateway, "embedding dimension mismatch")
	default:
		s.deps.Logger.Error("embedding failed", "error", err)
		writeError(w, http.StatusBadGateway, "embedding failed")
	}
}
