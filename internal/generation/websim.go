package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Composer writes text on demand. *provider.Router satisfies it.
type Composer interface {
	Reason(ctx context.Context, agentID, prompt string) (string, error)
}

// WebSimGenerator renders small self-contained HTML pages: an agent
// describes an interactive toy and the composer writes the page, which
// lands on local disk. Unlike the remote services the work happens in
// Submit, so Poll settles on the first call.
type WebSimGenerator struct {
	composer Composer
	outDir   string
	logger   *zap.Logger

	mu   sync.Mutex
	done map[string]*Result
}

// NewWebSimGenerator creates a generator writing pages under outDir.
func NewWebSimGenerator(composer Composer, outDir string, logger *zap.Logger) (*WebSimGenerator, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &WebSimGenerator{
		composer: composer,
		outDir:   outDir,
		logger:   logger,
		done:     make(map[string]*Result),
	}, nil
}

func websimPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("Write a single self-contained HTML page, with inline CSS and JavaScript, ")
	b.WriteString("implementing this small interactive experience:\n")
	b.WriteString(prompt)
	b.WriteString("\nReply with the raw HTML only, no markdown fences, no commentary.")
	return b.String()
}

// Submit composes and writes the page, returning a job id.
func (g *WebSimGenerator) Submit(ctx context.Context, prompt string) (string, error) {
	jobID := uuid.New().String()

	page, err := g.composer.Reason(ctx, "websim:"+jobID, websimPrompt(prompt))
	if err != nil {
		return "", fmt.Errorf("compose page: %w", err)
	}
	page = stripFences(page)
	if !strings.Contains(strings.ToLower(page), "<html") {
		page = "<!DOCTYPE html>\n<html>\n<body>\n" + page + "\n</body>\n</html>\n"
	}

	path := filepath.Join(g.outDir, jobID+".html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("write page: %w", err)
	}

	g.mu.Lock()
	g.done[jobID] = &Result{State: StateSucceeded, Location: path}
	g.mu.Unlock()

	g.logger.Debug("websim page written", zap.String("path", path))
	return jobID, nil
}

// Poll reports the finished page for a known job id.
func (g *WebSimGenerator) Poll(_ context.Context, jobID string) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.done[jobID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("unknown websim job %s", jobID)
}

// stripFences removes a markdown code fence if the composer wrapped
// the page in one anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
