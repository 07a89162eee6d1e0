package ports

import "codepad/apps/editor/internal/repo"

type ConfigStore interface {
	Read(func(cfg *repo.EditorConfig))
	Write(func(cfg *repo.EditorConfig) error) error
	SetLastFile(path string) error
}
