package workspace

import (
	"path/filepath"
	"strings"
)

const (
	iconDirectory = "📁"
	iconDefault   = "📄"
)

var iconsByExt = map[string]string{
	".py":    "🐍",
	".pyw":   "🐍",
	".ipynb": "📓",
	".js":    "📜",
	".ts":    "📜",
	".go":    "🐹",
	".rs":    "🦀",
	".sh":    "💻",
	".json":  "🧾",
	".yaml":  "🧾",
	".yml":   "🧾",
	".toml":  "🧾",
	".md":    "📝",
	".txt":   "📝",
	".html":  "🌐",
	".css":   "🎨",
	".png":   "🖼️",
	".jpg":   "🖼️",
	".svg":   "🖼️",
}

func iconFor(name string, isDir bool) string {
	if isDir {
		return iconDirectory
	}
	if icon, ok := iconsByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return icon
	}
	return iconDefault
}
