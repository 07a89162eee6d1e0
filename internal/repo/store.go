package repo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"codepad/apps/editor/internal/logging"
)

const DefaultModel = "qwen/qwen3-vl-235b-a22b-thinking"

var defaultModels = []string{
	DefaultModel,
	"meta-llama/llama-3.2-3b-instruct:free",
	"google/gemini-2.0-flash-exp:free",
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-3-haiku",
	"openai/gpt-4-turbo",
}

// EditorConfig is the document the web client reads and writes through
// /api/config. Keys the server does not know are kept in Extra.
type EditorConfig struct {
	APIKey        string
	SelectedModel string
	Models        []string
	LastFile      string
	Extra         map[string]json.RawMessage
}

var knownKeys = map[string]struct{}{
	"api_key":        {},
	"selected_model": {},
	"models":         {},
	"last_file":      {},
}

func DefaultConfig() EditorConfig {
	return EditorConfig{
		SelectedModel: DefaultModel,
		Models:        append([]string(nil), defaultModels...),
		Extra:         map[string]json.RawMessage{},
	}
}

func (c EditorConfig) Clone() EditorConfig {
	out := c
	out.Models = append([]string(nil), c.Models...)
	out.Extra = make(map[string]json.RawMessage, len(c.Extra))
	for k, v := range c.Extra {
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (c EditorConfig) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(c.Extra)+len(knownKeys))
	for k, v := range c.Extra {
		obj[k] = v
	}
	models := c.Models
	if models == nil {
		models = []string{}
	}
	fields := map[string]interface{}{
		"api_key":        c.APIKey,
		"selected_model": c.SelectedModel,
		"models":         models,
		"last_file":      c.LastFile,
	}
	for k, v := range fields {
		raw, err := marshalRaw(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return marshalOrdered(obj)
}

// marshalRaw is json.Marshal without HTML escaping, so paths like
// "<main>.py" survive into the file as typed.
func marshalRaw(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *EditorConfig) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj == nil {
		return errors.New("config document must be a JSON object")
	}
	next := c.Clone()
	if err := next.apply(obj); err != nil {
		return err
	}
	*c = next
	return nil
}

// apply shallow-merges obj into c. Known keys are type-checked.
func (c *EditorConfig) apply(obj map[string]json.RawMessage) error {
	if c.Extra == nil {
		c.Extra = map[string]json.RawMessage{}
	}
	for key, raw := range obj {
		var err error
		switch key {
		case "api_key":
			err = json.Unmarshal(raw, &c.APIKey)
		case "selected_model":
			err = json.Unmarshal(raw, &c.SelectedModel)
		case "last_file":
			err = json.Unmarshal(raw, &c.LastFile)
		case "models":
			var models []string
			err = json.Unmarshal(raw, &models)
			if err == nil {
				if models == nil {
					models = []string{}
				}
				c.Models = models
			}
		default:
			c.Extra[key] = append(json.RawMessage(nil), raw...)
		}
		if err != nil {
			return &ValidationError{Code: "invalid_config", Message: fmt.Sprintf("invalid value for %q", key)}
		}
	}
	return nil
}

// marshalOrdered writes keys sorted so the file diffs cleanly between saves.
func marshalOrdered(obj map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalRaw(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(obj[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type Store struct {
	mu          sync.RWMutex
	config      EditorConfig
	configFile  string
	loadWarning string
}

// NewStore loads the config document at path. A missing, unreadable or
// malformed file never fails construction: the store falls back to defaults
// and records a warning instead.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	s := &Store{
		configFile: path,
		config:     DefaultConfig(),
	}
	s.load()
	return s, nil
}

func (s *Store) load() {
	b, err := os.ReadFile(s.configFile)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.saveLocked(); err != nil {
			logging.Warn("write default editor config failed", zap.String("path", s.configFile), zap.Error(err))
		}
		return
	}
	if err != nil {
		s.warn(fmt.Sprintf("read config %s: %v; using defaults", s.configFile, err))
		return
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		backup := s.configFile + ".corrupt"
		msg := fmt.Sprintf("parse config %s: %v; using defaults", s.configFile, err)
		if werr := os.WriteFile(backup, b, 0o600); werr == nil {
			msg += "; original saved to " + backup
		}
		s.warn(msg)
		return
	}
	s.config = cfg
}

func (s *Store) warn(msg string) {
	s.loadWarning = msg
	logging.Warn("editor config fallback", zap.String("path", s.configFile), zap.String("reason", msg))
}

// LoadWarning reports why the store fell back to defaults, if it did.
func (s *Store) LoadWarning() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadWarning
}

func (s *Store) Path() string {
	return s.configFile
}

// saveLocked writes the document to a sibling temp file and renames it over
// the target.
func (s *Store) saveLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.config); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.configFile), filepath.Base(s.configFile)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.configFile); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) Read(fn func(cfg *EditorConfig)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.config)
}

// Write applies fn to a copy and commits it only if fn and the save succeed.
func (s *Store) Write(fn func(cfg *EditorConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.config
	next := s.config.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.config = next
	if err := s.saveLocked(); err != nil {
		s.config = prev
		return err
	}
	return nil
}

func (s *Store) Snapshot() EditorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// Merge shallow-merges a JSON object into the config and persists it.
func (s *Store) Merge(patch []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(patch, &obj); err != nil || obj == nil {
		return &ValidationError{Code: "invalid_config", Message: "config update must be a JSON object"}
	}
	return s.Write(func(cfg *EditorConfig) error {
		return cfg.apply(obj)
	})
}

func (s *Store) SetLastFile(path string) error {
	return s.Write(func(cfg *EditorConfig) error {
		cfg.LastFile = path
		return nil
	})
}
