// Package worktree runs git commits inside per-feature working trees.
package worktree

import "errors"

var (
	// ErrNotGitWorktree is returned when the target path is not a git repository or linked worktree.
	ErrNotGitWorktree = errors.New("path is not a git worktree")

	// ErrGitCommandFailed is returned when a git command fails to execute.
	ErrGitCommandFailed = errors.New("git command failed")
)
