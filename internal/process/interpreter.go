package process

import (
	"strings"
)

// resolveInterpreter returns the program and leading args used to run a
// script. A configured command wins and is split on whitespace; otherwise
// the usual Python launchers for goos are tried in order.
func resolveInterpreter(goos, configured string, lookPath func(file string) (string, error)) (string, []string, error) {
	if fields := strings.Fields(configured); len(fields) > 0 {
		if _, err := lookPath(fields[0]); err != nil {
			return "", nil, ErrInterpreterUnavailable
		}
		return fields[0], fields[1:], nil
	}

	candidates := []string{"python3", "python"}
	if strings.EqualFold(strings.TrimSpace(goos), "windows") {
		candidates = []string{"python", "py"}
	}
	for _, name := range candidates {
		if _, err := lookPath(name); err == nil {
			return name, nil, nil
		}
	}
	return "", nil, ErrInterpreterUnavailable
}
