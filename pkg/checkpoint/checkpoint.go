// Package checkpoint snapshots repository state as git commits so the
// executive can revert failed attempts and diff accepted ones.
package checkpoint

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	"forge/pkg/config"
	"forge/pkg/logx"
)

// ID identifies a checkpoint. It is a full git commit hash.
type ID string

// Error marks the state store as being in an unexpected condition. It is
// fatal to the session: the caller must stop without applying further
// patches.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCheckpointError reports whether err is fatal checkpoint corruption.
func IsCheckpointError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Change is one file-level difference between two checkpoints.
type Change struct {
	Path   string
	Action string // "added", "deleted", "modified"
}

// Info is checkpoint metadata for display.
type Info struct {
	ID      ID
	Message string
	Author  string
	When    time.Time
}

// Manager serializes all checkpoint operations on one repository behind a
// single mutex.
type Manager struct {
	mu     sync.Mutex
	repo   *git.Repository
	dir    string
	logger *logx.Logger
}

const (
	authorName  = "forge"
	authorEmail = "forge@localhost"
)

// Open attaches to an existing git repository at dir.
func Open(dir string) (*Manager, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}
	return &Manager{repo: repo, dir: dir, logger: logx.NewLogger("checkpoint")}, nil
}

// InitIfNeeded opens the repository at dir, initializing it with a baseline
// commit when dir is not yet a repository.
func InitIfNeeded(dir string) (*Manager, error) {
	m, err := Open(dir)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init git repository at %s: %w", dir, err)
	}
	m = &Manager{repo: repo, dir: dir, logger: logx.NewLogger("checkpoint")}
	if _, err := m.Commit("baseline"); err != nil {
		return nil, err
	}
	m.logger.Info("initialized repository at %s", dir)
	return m, nil
}

// Commit stages every change outside the state directory and records a
// checkpoint. An unmerged index is fatal; a clean worktree still produces
// a commit so every attempt has a distinct checkpoint.
func (m *Manager) Commit(message string) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, err := m.worktree()
	if err != nil {
		return "", &Error{Op: "commit", Err: err}
	}

	status, err := wt.Status()
	if err != nil {
		return "", &Error{Op: "commit", Err: err}
	}
	for path, fs := range status {
		if fs.Staging == git.UpdatedButUnmerged || fs.Worktree == git.UpdatedButUnmerged {
			return "", &Error{Op: "commit", Err: fmt.Errorf("unmerged path %s", path)}
		}
	}

	// Paths are staged one by one: AddOptions{All: true} ignores
	// wt.Excludes and would commit the state directory into every
	// checkpoint, where the next revert destroys it.
	for path, fs := range status {
		if isStateDirPath(path) {
			continue
		}
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return "", &Error{Op: "commit", Err: fmt.Errorf("staging %s: %w", path, err)}
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", &Error{Op: "commit", Err: err}
	}

	m.logger.Debug("committed checkpoint %s: %s", hash.String()[:8], message)
	return ID(hash.String()), nil
}

// Revert hard-resets the worktree to the given checkpoint.
func (m *Manager) Revert(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, err := m.worktree()
	if err != nil {
		return &Error{Op: "revert", Err: err}
	}
	hash := plumbing.NewHash(string(id))
	if _, err := m.repo.CommitObject(hash); err != nil {
		return &Error{Op: "revert", Err: fmt.Errorf("unknown checkpoint %s: %w", id, err)}
	}
	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return &Error{Op: "revert", Err: err}
	}
	m.logger.Debug("reverted to checkpoint %s", string(id)[:8])
	return nil
}

// Head returns the current checkpoint.
func (m *Manager) Head() (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, err := m.repo.Head()
	if err != nil {
		return "", &Error{Op: "head", Err: err}
	}
	return ID(ref.Hash().String()), nil
}

// Diff returns the file-level changes between two checkpoints.
func (m *Manager) Diff(from, to ID) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromTree, err := m.treeOf(from)
	if err != nil {
		return nil, err
	}
	toTree, err := m.treeOf(to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", from, to, err)
	}

	out := make([]Change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve change action: %w", err)
		}
		c := Change{Action: action.String()}
		switch action.String() {
		case "Insert":
			c.Path = ch.To.Name
			c.Action = "added"
		case "Delete":
			c.Path = ch.From.Name
			c.Action = "deleted"
		default:
			c.Path = ch.To.Name
			c.Action = "modified"
		}
		out = append(out, c)
	}
	return out, nil
}

// Show returns metadata for a checkpoint.
func (m *Manager) Show(id ID) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	commit, err := m.repo.CommitObject(plumbing.NewHash(string(id)))
	if err != nil {
		return nil, fmt.Errorf("unknown checkpoint %s: %w", id, err)
	}
	return &Info{
		ID:      id,
		Message: commit.Message,
		Author:  commit.Author.Name,
		When:    commit.Author.When,
	}, nil
}

// worktree returns the repository worktree with the state directory
// excluded from status, so session bookkeeping never shows up as untracked
// noise. Commit additionally skips state-dir paths when staging.
func (m *Manager) worktree() (*git.Worktree, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return nil, err
	}
	wt.Excludes = append(wt.Excludes,
		gitignore.ParsePattern(config.StateDirName+"/", nil))
	return wt, nil
}

// isStateDirPath reports whether a repo-relative path lives inside the
// state directory.
func isStateDirPath(path string) bool {
	return path == config.StateDirName || strings.HasPrefix(path, config.StateDirName+"/")
}

func (m *Manager) treeOf(id ID) (*object.Tree, error) {
	commit, err := m.repo.CommitObject(plumbing.NewHash(string(id)))
	if err != nil {
		return nil, fmt.Errorf("unknown checkpoint %s: %w", id, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree for %s: %w", id, err)
	}
	return tree, nil
}
