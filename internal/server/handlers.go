package server

import (
	"io"
	"net/http"

	"github.com/codeatlas/atlas/internal/analyzer"
	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

const maxMultipartMemory = 32 << 20

type uploadResponse struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (s *Server) handleUploadProject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.CodeInvalidRequest, "invalid multipart form", err))
		return
	}
	name := r.FormValue("project_name")
	ownerID := r.FormValue("user_id")

	var files []model.SourceFile
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.CodeInvalidRequest, "unreadable upload file", err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.CodeInvalidRequest, "unreadable upload file", err))
			return
		}
		files = append(files, model.SourceFile{Path: header.Filename, Content: string(content)})
	}

	session, err := s.coordinator.UploadProject(r.Context(), name, files, ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, uploadResponse{
		SessionID: session.SessionID,
		ProjectID: session.ProjectID,
		Status:    session.Status,
		Message:   "upload accepted, processing started",
	})
}

func (s *Server) handleUploadFromSourceControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"project_name"`
		URL         string `json:"url"`
		UserID      string `json:"user_id"`
		Branch      string `json:"branch"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.coordinator.UploadFromSourceControl(r.Context(),
		req.ProjectName, req.URL, req.UserID, req.Branch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, uploadResponse{
		SessionID: session.SessionID,
		ProjectID: session.ProjectID,
		Status:    session.Status,
		Message:   "repository fetch started",
	})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.coordinator.GetSession(r.PathValue("session_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"session_id":         session.SessionID,
		"project_id":         session.ProjectID,
		"status":             session.Status,
		"progress":           session.Progress,
		"files_processed":    session.FilesProcessed,
		"entities_extracted": session.EntitiesExtracted,
		"errors":             session.Errors,
		"statistics":         session.Statistics,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.engine.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.engine.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, project)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChangedFiles []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"changed_files"`
		DeletedFiles []string `json:"deleted_files"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.ChangedFiles) == 0 && len(req.DeletedFiles) == 0 {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest,
			"changed_files or deleted_files is required"))
		return
	}

	projectID := r.PathValue("id")
	changed := make([]model.SourceFile, 0, len(req.ChangedFiles))
	for _, f := range req.ChangedFiles {
		changed = append(changed, model.SourceFile{Path: f.Path, Content: f.Content})
	}
	if err := s.coordinator.UpdateProject(r.Context(), projectID, changed, req.DeletedFiles); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"project_id": projectID,
		"status":     "updated",
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := s.coordinator.DeleteProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"project_id": projectID,
		"status":     "deleted",
	})
}

type structuralQueryRequest struct {
	ProjectID  string `json:"project_id"`
	FunctionID string `json:"function_id"`
	MaxDepth   int    `json:"max_depth,omitempty"`
}

func (s *Server) handleQueryCallers(w http.ResponseWriter, r *http.Request) {
	req, ok := s.structuralRequest(w, r)
	if !ok {
		return
	}
	result, err := s.engine.FindCallers(r.Context(), req.ProjectID, req.FunctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleQueryDependencies(w http.ResponseWriter, r *http.Request) {
	req, ok := s.structuralRequest(w, r)
	if !ok {
		return
	}
	result, err := s.engine.FindDependencies(r.Context(), req.ProjectID, req.FunctionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleQueryImpact(w http.ResponseWriter, r *http.Request) {
	req, ok := s.structuralRequest(w, r)
	if !ok {
		return
	}
	result, err := s.engine.ImpactAnalysis(r.Context(), req.ProjectID, req.FunctionID, req.MaxDepth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) structuralRequest(w http.ResponseWriter, r *http.Request) (structuralQueryRequest, bool) {
	var req structuralQueryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return req, false
	}
	if req.ProjectID == "" || req.FunctionID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest,
			"project_id and function_id are required"))
		return req, false
	}
	return req, true
}

func (s *Server) handleQuerySearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string   `json:"query"`
		ProjectIDs []string `json:"project_ids"`
		TopK       int      `json:"top_k"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.engine.SemanticSearch(r.Context(), req.Query, req.ProjectIDs, req.TopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleQueryHotspots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		TopN      int    `json:"top_n"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "project_id is required"))
		return
	}

	report, err := s.engine.ProjectHotspots(r.Context(), req.ProjectID, req.TopN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleQueryHierarchy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		ClassID   string `json:"class_id"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" || req.ClassID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "project_id and class_id are required"))
		return
	}

	hierarchy, err := s.engine.ClassHierarchy(r.Context(), req.ProjectID, req.ClassID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, hierarchy)
}

func (s *Server) handleQuerySimilar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		EntityID  string `json:"entity_id"`
		TopK      int    `json:"top_k"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "project_id is required"))
		return
	}

	results, err := s.engine.FindSimilar(r.Context(), req.ProjectID, req.EntityID, req.TopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleQueryContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query           string   `json:"query"`
		ProjectID       string   `json:"project_id"`
		TokenBudget     int      `json:"token_budget"`
		ManualEntityIDs []string `json:"manual_entity_ids"`
		ValidateOnly    bool     `json:"validate_only"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "project_id is required"))
		return
	}
	if req.TokenBudget <= 0 {
		req.TokenBudget = s.cfg.Query.TokenBudget
	}

	if req.ValidateOnly {
		result, err := s.assembler.Validate(r.Context(),
			req.Query, req.ProjectID, req.TokenBudget, req.ManualEntityIDs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, result)
		return
	}

	result, err := s.assembler.RetrieveContext(r.Context(),
		req.Query, req.ProjectID, req.TokenBudget, req.ManualEntityIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleVisualizationGraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		model.GraphFilters
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidRequest, "project_id is required"))
		return
	}

	view, err := s.engine.ProjectGraph(r.Context(), req.ProjectID, req.GraphFilters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleVisualizationAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzer.Request
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Graph != nil {
		s.writeJSON(w, r, http.StatusOK, result.Graph)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result.Trace)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"environment": s.cfg.Server.Environment,
		"cache":       s.engine.CacheStats(),
	})
}
