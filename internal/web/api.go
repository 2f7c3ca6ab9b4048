package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/maistro/internal/configs"
	"github.com/mtzanidakis/maistro/internal/execution"
	"github.com/mtzanidakis/maistro/internal/mcp"
	"github.com/mtzanidakis/maistro/internal/models"
	"github.com/mtzanidakis/maistro/internal/scheduler"
	"github.com/mtzanidakis/maistro/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.getHealth)
	mux.HandleFunc("GET /api/status", s.getStatus)

	// Configurations
	mux.HandleFunc("GET /api/configs", s.listConfigs)
	mux.HandleFunc("POST /api/configs", s.createConfig)
	mux.HandleFunc("GET /api/configs/{id}", s.getConfig)
	mux.HandleFunc("PUT /api/configs/{id}", s.updateConfig)
	mux.HandleFunc("DELETE /api/configs/{id}", s.deleteConfig)
	mux.HandleFunc("PUT /api/configs/{id}/move", s.moveConfig)
	mux.HandleFunc("GET /api/configs/{id}/chain", s.getChain)

	// Folders
	mux.HandleFunc("GET /api/folders", s.listFolders)
	mux.HandleFunc("POST /api/folders", s.createFolder)
	mux.HandleFunc("DELETE /api/folders", s.deleteFolder)
	mux.HandleFunc("PUT /api/folders/rename", s.renameFolder)

	// MCP servers
	mux.HandleFunc("GET /api/mcp-servers", s.listMCPServers)
	mux.HandleFunc("POST /api/mcp-servers", s.saveMCPServer)
	mux.HandleFunc("DELETE /api/mcp-servers/{id}", s.deleteMCPServer)

	// Models
	mux.HandleFunc("GET /api/models", s.listModels)
	mux.HandleFunc("POST /api/models", s.addModel)
	mux.HandleFunc("DELETE /api/models", s.removeModel)
	mux.HandleFunc("PUT /api/models/default", s.setDefaultModel)
	mux.HandleFunc("PUT /api/models/api-key", s.setAPIKey)
	mux.HandleFunc("GET /api/models/current", s.currentModel)

	// Executions
	mux.HandleFunc("POST /api/run/{id}", s.runConfig)
	mux.HandleFunc("GET /api/executions", s.listExecutions)
	mux.HandleFunc("GET /api/executions/active", s.activeExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.getExecution)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	upcoming := []scheduler.Upcoming{}
	if s.scheduler != nil {
		upcoming = s.scheduler.Upcoming()
	}

	status := map[string]any{
		"status":            "ok",
		"version":           s.version,
		"uptime":            formatUptime(time.Since(s.startedAt)),
		"configs_count":     len(s.configs.List(nil)),
		"active_executions": len(s.orch.Active()),
		"subscribers":       s.channels.Count(),
		"default_model":     s.models.DefaultModel(),
		"upcoming":          upcoming,
		"timestamp":         time.Now().UTC(),
	}
	jsonResponse(w, status)
}

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	var folder *string
	if r.URL.Query().Has("folderPath") {
		f := r.URL.Query().Get("folderPath")
		folder = &f
	}
	jsonResponse(w, s.configs.List(folder))
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.configs.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "Configuration not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, cfg)
}

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var cfg configs.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.saveConfig(w, &cfg)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg configs.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg.ID = r.PathValue("id")
	s.saveConfig(w, &cfg)
}

func (s *Server) saveConfig(w http.ResponseWriter, cfg *configs.Configuration) {
	if err := s.configs.Save(cfg); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, configs.ErrInvalid) {
			code = http.StatusBadRequest
		}
		jsonError(w, err.Error(), code)
		return
	}
	s.reloadSchedule()
	jsonResponse(w, map[string]any{"success": true, "config": cfg})
}

func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	removed, err := s.configs.Delete(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !removed {
		jsonError(w, "Configuration not found", http.StatusNotFound)
		return
	}
	s.reloadSchedule()
	jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) moveConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FolderPath *string `json:"folderPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FolderPath == nil {
		jsonError(w, "No folder path provided", http.StatusBadRequest)
		return
	}

	cfg, err := s.configs.Move(r.PathValue("id"), *body.FolderPath)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		jsonError(w, "Configuration not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "config": cfg})
}

// getChain reports the trigger chain of a configuration. A broken chain is
// still returned with 200; its broken field says why.
func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	chain, _ := s.configs.Chain(r.PathValue("id"))
	if chain == nil {
		jsonError(w, "Configuration not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, chain)
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.configs.Folders())
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		jsonError(w, "No folder path provided", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "folder": s.configs.CreateFolder(body.Path)})
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		jsonError(w, "No folder path provided", http.StatusBadRequest)
		return
	}
	if err := s.configs.DeleteFolder(path); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) renameFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPath string `json:"oldPath"`
		NewPath string `json:"newPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OldPath == "" || body.NewPath == "" {
		jsonError(w, "oldPath and newPath are required", http.StatusBadRequest)
		return
	}
	if err := s.configs.RenameFolder(body.OldPath, body.NewPath); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) listMCPServers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.mcp.List())
}

func (s *Server) saveMCPServer(w http.ResponseWriter, r *http.Request) {
	var srv mcp.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.mcp.Save(&srv); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, mcp.ErrInvalidServer) {
			code = http.StatusBadRequest
		}
		jsonError(w, err.Error(), code)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "mcpServer": srv})
}

func (s *Server) deleteMCPServer(w http.ResponseWriter, r *http.Request) {
	removed, err := s.mcp.Delete(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !removed {
		jsonError(w, "MCP server not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"defaultModel":    s.models.DefaultModel(),
		"availableModels": s.models.Models(),
		"hasApiKey":       s.models.HasAPIKey(),
	})
}

type modelBody struct {
	Model string `json:"model"`
}

func (s *Server) addModel(w http.ResponseWriter, r *http.Request) {
	var body modelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.models.Add(body.Model); err != nil {
		modelError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "availableModels": s.models.Models()})
}

func (s *Server) removeModel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		jsonError(w, "No model id provided", http.StatusBadRequest)
		return
	}
	if err := s.models.Remove(id); err != nil {
		modelError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "availableModels": s.models.Models()})
}

func (s *Server) setDefaultModel(w http.ResponseWriter, r *http.Request) {
	var body modelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.models.SetDefault(body.Model); err != nil {
		modelError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"success": true, "defaultModel": body.Model})
}

func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.models.SetAPIKey(body.APIKey); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"success": true})
}

func (s *Server) currentModel(w http.ResponseWriter, r *http.Request) {
	current, err := s.models.CurrentModel()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"model": current})
}

func modelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnknownModel):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrRemoveDefault), errors.Is(err, models.ErrInvalidModelID):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) runConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, ok := s.configs.Get(id)
	if !ok {
		jsonError(w, "Configuration not found", http.StatusNotFound)
		return
	}

	live := s.channels.Live(id)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.orch.Execute(s.runCtx, cfg, s.channels.Sink(id)); err != nil {
			slog.Warn("execution failed", "config", id, "error", err)
		}
	}()

	if !live {
		jsonResponse(w, map[string]any{
			"success":        true,
			"message":        "Execution queued, waiting for WebSocket connection",
			"needsReconnect": true,
		})
		return
	}
	jsonResponse(w, map[string]any{"success": true, "message": "Execution started"})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonResponse(w, []store.ExecutionRecord{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.ListExecutions(r.URL.Query().Get("configId"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records)
}

func (s *Server) activeExecutions(w http.ResponseWriter, r *http.Request) {
	active := s.orch.Active()
	if active == nil {
		active = []execution.Execution{}
	}
	jsonResponse(w, active)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "execution history is disabled", http.StatusNotFound)
		return
	}
	rec, err := s.store.GetExecution(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "execution not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) reloadSchedule() {
	if s.scheduler != nil {
		s.scheduler.Reload()
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
