package domain

// APIErrorBody is the flat error envelope every endpoint returns on failure.
type APIErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SuccessBody struct {
	Success bool `json:"success"`
}

type FileItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Icon  string `json:"icon"`
}

type DirectoryListing struct {
	Items       []FileItem `json:"items"`
	CurrentPath string     `json:"current_path"`
}

type OpenedFile struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type WorkspaceState struct {
	SessionID        string `json:"session_id"`
	CurrentFile      string `json:"current_file"`
	FileModified     bool   `json:"file_modified"`
	CurrentDirectory string `json:"current_directory"`
}

// CodeBlock is one fenced block pulled out of an AI reply.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type ChatResponse struct {
	Success    bool        `json:"success"`
	Response   string      `json:"response"`
	Model      string      `json:"model,omitempty"`
	CodeBlocks []CodeBlock `json:"code_blocks"`
	HTML       string      `json:"html,omitempty"`
}

type HealthStatus struct {
	OK            bool   `json:"ok"`
	ConfigWarning string `json:"config_warning,omitempty"`
	ActiveRuns    int    `json:"active_runs"`
	ActiveChats   int    `json:"active_chats"`
	Sessions      int    `json:"sessions"`
	Watched       int    `json:"watched_directories"`
	Subscribers   int    `json:"subscribers"`
}
