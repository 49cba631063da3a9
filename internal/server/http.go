package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChuLiYu/jobwatch/internal/auth"
	"github.com/ChuLiYu/jobwatch/internal/wire"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorBody{Error: msg})
}

// credentials pulls the assertion and chat id from headers, falling back to
// query parameters.
func credentials(r *http.Request) (string, string) {
	initData := r.Header.Get(wire.HeaderInitData)
	if initData == "" {
		initData = r.URL.Query().Get(wire.QueryInitData)
	}
	if initData == "" {
		initData = r.URL.Query().Get(wire.QueryAuthAlias)
	}
	chatID := r.Header.Get(wire.HeaderChatID)
	if chatID == "" {
		chatID = r.URL.Query().Get(wire.QueryChatID)
	}
	return initData, chatID
}

func (s *Server) authenticate(r *http.Request, surface string) (auth.Identity, error) {
	initData, rawChat := credentials(r)
	chatID, err := auth.ParseChatID(rawChat)
	if err == nil {
		var id auth.Identity
		id, err = s.gate.Authenticate(initData, chatID)
		if err == nil {
			return id, nil
		}
	}
	s.metrics.RecordAuthRejection(surface)
	log.Info("Request rejected", "surface", surface, "path", r.URL.Path, "reason", err)
	return auth.Identity{}, err
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r, "command"); err != nil {
			writeError(w, http.StatusForbidden, wire.UnauthorizedBody)
			return
		}
		next(w, r)
	}
}

func jobID(r *http.Request) (types.JobID, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return types.JobID(id), id != ""
}

// commandResult records and writes a command outcome.
func (s *Server) commandResult(w http.ResponseWriter, command string, id types.JobID, err error) {
	s.metrics.RecordCommand(command, err)
	if err != nil {
		log.Warn("Command failed", "command", command, "job", id, "error", err)
		writeJSON(w, http.StatusBadGateway, types.CommandResult{Success: false, Error: err.Error()})
		return
	}
	log.Info("Command applied", "command", command, "job", id)
	writeJSON(w, http.StatusOK, types.CommandResult{Success: true})
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	if snap == nil {
		snap = &types.Snapshot{Jobs: []types.JobRecord{}}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	s.commandResult(w, "pause", id, s.commands.Pause(r.Context(), id))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	s.commandResult(w, "resume", id, s.commands.Resume(r.Context(), id))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	var req wire.DeleteRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.commandResult(w, "delete", id, s.commands.Delete(r.Context(), id, req.DeleteFiles))
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	files, err := s.commands.ListFiles(r.Context(), id)
	s.metrics.RecordCommand("files", err)
	if err != nil {
		log.Warn("Command failed", "command", "files", "job", id, "error", err)
		writeJSON(w, http.StatusBadGateway, types.FileList{Files: []types.FileEntry{}, Error: err.Error()})
		return
	}
	if files == nil {
		files = []types.FileEntry{}
	}
	writeJSON(w, http.StatusOK, types.FileList{Files: files})
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	var req wire.PriorityRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(req.FileIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no file ids provided")
		return
	}
	priority := types.PriorityNormal
	if req.Priority != nil {
		priority = types.FilePriority(*req.Priority)
	}
	if !priority.Valid() {
		writeError(w, http.StatusBadRequest, "priority must be one of 0, 1, 6, 7")
		return
	}
	s.commandResult(w, "priority", id, s.commands.SetFilePriority(r.Context(), id, req.FileIDs, priority))
}

// decodeBody decodes a small JSON body. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			return nil
		}
		return errors.New("empty body")
	}
	return json.Unmarshal(data, v)
}
