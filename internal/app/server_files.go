package app

import (
	"errors"
	"net/http"

	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/service/workspace"
)

type pathRequest struct {
	Path string `json:"path"`
}

type saveFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type newFileRequest struct {
	DirPath  string `json:"dirpath"`
	Filename string `json:"filename"`
}

type renameFileRequest struct {
	OldPath string `json:"old_path"`
	NewName string `json:"new_name"`
}

type saveTempRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type markModifiedRequest struct {
	Modified bool `json:"modified"`
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	listing, err := s.files.List(s.sessionFor(r), req.Path)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) openFile(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	opened, err := s.files.Read(s.sessionFor(r), req.Path)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"content":  opened.Content,
		"filename": opened.Filename,
		"path":     opened.Path,
	})
}

func (s *Server) saveFile(w http.ResponseWriter, r *http.Request) {
	var req saveFileRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	path, err := s.files.Write(s.sessionFor(r), req.Path, req.Content)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "File saved",
		"path":    path,
	})
}

func (s *Server) newFile(w http.ResponseWriter, r *http.Request) {
	var req newFileRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	path, err := s.files.Create(s.sessionFor(r), req.DirPath, req.Filename)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "path": path})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	if err := s.files.Delete(s.sessionFor(r), req.Path); err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SuccessBody{Success: true})
}

func (s *Server) renameFile(w http.ResponseWriter, r *http.Request) {
	var req renameFileRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	newPath, err := s.files.Rename(s.sessionFor(r), req.OldPath, req.NewName)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "new_path": newPath})
}

func (s *Server) openDirectory(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	path, err := s.files.OpenDirectory(s.sessionFor(r), req.Path)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "path": path})
}

func (s *Server) saveTempFile(w http.ResponseWriter, r *http.Request) {
	var req saveTempRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	path, err := s.files.SaveTemp(req.Filename, req.Content)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "path": path})
}

func (s *Server) markModified(w http.ResponseWriter, r *http.Request) {
	var req markModifiedRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.files.MarkModified(s.sessionFor(r), req.Modified))
}

func (s *Server) workspaceState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.files.State(s.sessionFor(r)))
}

func (s *Server) writeWorkspaceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapWorkspaceError(err)
	failRequest(w, r, status, code, message, err)
}

func mapWorkspaceError(err error) (status int, code string, message string) {
	var validation *workspace.ValidationError
	if errors.As(err, &validation) {
		switch validation.Code {
		case workspace.CodeMissingArgument, workspace.CodeInvalidPath, workspace.CodeInvalidArgument:
			return http.StatusBadRequest, validation.Code, validation.Message
		}
		return http.StatusBadRequest, workspace.CodeInvalidArgument, validation.Message
	}
	var fileErr *workspace.FileError
	if errors.As(err, &fileErr) {
		return http.StatusInternalServerError, workspace.CodeIOError, fileErr.Error()
	}
	return http.StatusInternalServerError, workspace.CodeIOError, "workspace operation failed"
}
