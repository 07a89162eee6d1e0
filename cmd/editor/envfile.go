package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

const envFilePathEnv = "EDITOR_ENV_FILE"

// envFileResult describes one .env load. Keys already present in the
// process environment are never overwritten.
type envFileResult struct {
	Path    string
	Loaded  []string
	Skipped []string
}

// loadEnvFile reads $EDITOR_ENV_FILE, or ./.env. A missing file is not an
// error.
func loadEnvFile() (envFileResult, error) {
	path := strings.TrimSpace(os.Getenv(envFilePathEnv))
	if path == "" {
		path = ".env"
	}
	result := envFileResult{Path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return result, fmt.Errorf("%s:%d: set %s: %w", path, lineNo, key, err)
		}
		result.Loaded = append(result.Loaded, key)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read %s: %w", path, err)
	}
	return result, nil
}

// parseEnvLine accepts KEY=VALUE with an optional "export " prefix. Blank
// lines, comments and lines without a key are rejected.
func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, raw, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, unquoteEnvValue(raw), true
}

// unquoteEnvValue strips matching quotes. Double quotes expand \n; an
// unquoted value drops a trailing " # comment".
func unquoteEnvValue(raw string) string {
	text := strings.TrimSpace(raw)
	if len(text) >= 2 {
		switch {
		case text[0] == '"' && text[len(text)-1] == '"':
			return strings.ReplaceAll(text[1:len(text)-1], `\n`, "\n")
		case text[0] == '\'' && text[len(text)-1] == '\'':
			return text[1 : len(text)-1]
		}
	}
	if idx := strings.Index(text, " #"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	return text
}
