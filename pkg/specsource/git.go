package specsource

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/retry"
)

// GitConfig configures repository checkouts
type GitConfig struct {
	CacheDir     string
	CloneTimeout time.Duration
	GitBinary    string
	Retry        retry.Config
}

// GitSource shallow-clones repositories into a cache directory, one
// checkout per (repository, branch)
type GitSource struct {
	cfg    GitConfig
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGitSource creates a git-backed source
func NewGitSource(cfg GitConfig, logger *logging.Logger) *GitSource {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "oav-express", "specs")
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = 2 * time.Minute
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retry.IsRetryable
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &GitSource{cfg: cfg, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// CheckoutDir returns the cache directory used for a repository and branch
func (g *GitSource) CheckoutDir(repoURL, branch string) string {
	sum := sha256.Sum256([]byte(repoURL + "@" + branch))
	return filepath.Join(g.cfg.CacheDir, hex.EncodeToString(sum[:8]))
}

func (g *GitSource) lockFor(dir string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		g.locks[dir] = l
	}
	return l
}

// Fetch clones src into the cache unless a checkout already exists
func (g *GitSource) Fetch(ctx context.Context, src models.SpecSource) (string, error) {
	dir := g.CheckoutDir(src.RepoURL, src.Branch)
	lock := g.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		g.logger.Debug("Reusing spec checkout", map[string]interface{}{"repo": src.RepoURL, "dir": dir})
		return dir, nil
	}

	if err := os.MkdirAll(g.cfg.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	start := time.Now()
	err := retry.Do(ctx, g.cfg.Retry, func() error {
		return g.clone(ctx, src, dir)
	})
	if err != nil {
		return "", fmt.Errorf("%w: clone %s: %v", ErrSourceUnavailable, src.RepoURL, err)
	}

	g.logger.Info("Cloned spec repository", map[string]interface{}{
		"repo":     src.RepoURL,
		"branch":   src.Branch,
		"dir":      dir,
		"duration": time.Since(start).String(),
	})
	return dir, nil
}

func (g *GitSource) clone(ctx context.Context, src models.SpecSource, dir string) error {
	tmp, err := os.MkdirTemp(g.cfg.CacheDir, ".clone-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if src.Branch != "" {
		args = append(args, "--branch", src.Branch)
	}
	args = append(args, "--", src.RepoURL, tmp)

	cloneCtx, cancel := context.WithTimeout(ctx, g.cfg.CloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, g.cfg.GitBinary, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cloneCtx.Err() != nil {
			return fmt.Errorf("git clone timed out after %s", g.cfg.CloneTimeout)
		}
		return fmt.Errorf("git clone: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return g.publish(tmp, dir)
}

// publish moves a finished clone into place. Worker processes share the
// cache directory, so dir may appear at any moment; a published checkout is
// never removed or replaced because another session may be reading it.
func (g *GitSource) publish(tmp, dir string) error {
	err := os.Rename(tmp, dir)
	if err == nil {
		return nil
	}
	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		g.logger.Debug("Spec checkout published concurrently, discarding clone", map[string]interface{}{"dir": dir})
		return nil
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		return err
	}

	// Leftover without .git, never a published checkout. Move it aside
	// atomically before removing it.
	stale, mkErr := os.MkdirTemp(g.cfg.CacheDir, ".stale-")
	if mkErr != nil {
		return err
	}
	defer os.RemoveAll(stale)
	if mvErr := os.Rename(dir, filepath.Join(stale, "checkout")); mvErr != nil && !os.IsNotExist(mvErr) {
		return err
	}
	if err := os.Rename(tmp, dir); err != nil {
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}
