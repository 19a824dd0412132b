package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/common/logger"
)

// Manager runs git commits inside feature worktrees. The desktop shell owns
// worktree creation and removal; the daemon only commits into paths it is
// handed, so the manager validates the path and serializes git invocations
// per worktree.
type Manager struct {
	logger *logger.Logger

	pathLocks  map[string]*sync.Mutex
	pathLockMu sync.Mutex
}

// CommitResult describes the outcome of a feature commit.
type CommitResult struct {
	// Committed is false when the worktree had no changes to record.
	Committed bool   `json:"committed"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// NewManager creates a worktree manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		logger:    log.WithFields(zap.String("component", "worktree-manager")),
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// getPathLock returns the mutex serializing git operations for a worktree path.
func (m *Manager) getPathLock(worktreePath string) *sync.Mutex {
	m.pathLockMu.Lock()
	defer m.pathLockMu.Unlock()

	if lock, exists := m.pathLocks[worktreePath]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	m.pathLocks[worktreePath] = lock
	return lock
}

// CommitFeature stages and commits everything in the feature's worktree.
// An empty change set is not an error: the result reports Committed=false
// and no commit is created. The commit subject comes from the feature
// title, with the feature id recorded as a trailer.
func (m *Manager) CommitFeature(ctx context.Context, worktreePath, featureID, title string) (*CommitResult, error) {
	if strings.TrimSpace(worktreePath) == "" {
		return nil, fmt.Errorf("%w: empty worktree path", ErrNotGitWorktree)
	}
	if err := checkGitWorktree(worktreePath); err != nil {
		return nil, err
	}

	lock := m.getPathLock(worktreePath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.runGit(ctx, worktreePath, "add", "-A"); err != nil {
		return nil, err
	}

	status, err := m.runGit(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		m.logger.Info("nothing to commit for feature",
			zap.String("feature_id", featureID),
			zap.String("worktree", worktreePath))
		return &CommitResult{Committed: false}, nil
	}

	subject := strings.TrimSpace(title)
	if subject == "" {
		subject = "feature " + featureID
	}
	trailer := "Feature: " + featureID

	if _, err := m.runGit(ctx, worktreePath, "commit", "-m", subject, "-m", trailer); err != nil {
		return nil, err
	}

	sha, err := m.runGit(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	sha = strings.TrimSpace(sha)

	m.logger.Info("committed feature worktree",
		zap.String("feature_id", featureID),
		zap.String("worktree", worktreePath),
		zap.String("commit", sha))

	return &CommitResult{Committed: true, CommitSHA: sha}, nil
}

// runGit executes a git command inside dir and returns its combined output.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: git %s: %s", ErrGitCommandFailed,
			strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// checkGitWorktree verifies the path is the root of a git worktree: either a
// full repository (.git directory) or a linked worktree (.git file whose
// contents point at the parent repository's gitdir).
func checkGitWorktree(worktreePath string) error {
	info, err := os.Stat(worktreePath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotGitWorktree, worktreePath)
	}

	gitPath := filepath.Join(worktreePath, ".git")
	gitInfo, err := os.Stat(gitPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotGitWorktree, worktreePath)
	}
	if gitInfo.IsDir() {
		return nil
	}

	// Linked worktrees carry a .git file pointing back at the main repo.
	content, err := os.ReadFile(gitPath)
	if err != nil || !strings.HasPrefix(string(content), "gitdir:") {
		return fmt.Errorf("%w: %s", ErrNotGitWorktree, worktreePath)
	}
	return nil
}
