package ports

import (
	"context"
	"time"

	"codepad/apps/editor/internal/runner"
)

type ChatRunner interface {
	Chat(ctx context.Context, req runner.ChatRequest, cfg runner.GenerateConfig) (runner.ChatReply, error)
}

// Pruner drops entries idle or finished for longer than olderThan and reports
// how many it removed.
type Pruner interface {
	Prune(olderThan time.Duration) int
}
