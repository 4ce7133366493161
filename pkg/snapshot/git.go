// Package snapshot keeps a git history of the local data directory.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"go.uber.org/zap"
)

type Options struct {
	// Push after every commit when the repository has a remote.
	Push bool
	// SSHKey is the private key used for pushing. Empty tries without auth.
	SSHKey      string
	AuthorName  string
	AuthorEmail string
	Logger      *zap.Logger
}

// Repo commits the data directory.
type Repo struct {
	dir  string
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the repository at dir, initializing it on first use.
func Open(dir string, opts Options) (*Repo, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "Front Desk"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "frontdesk@localhost"
	}
	r, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		r, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repo: %w", err)
	}
	return &Repo{dir: dir, opts: opts, log: opts.Logger.Named("snapshot"), repo: r}, nil
}

// Commit stages every change, including removed files, and commits it. It
// returns the commit hash, or "" when there was nothing to commit.
func (g *Repo) Commit(ctx context.Context, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to add changes: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	if message == "" {
		message = fmt.Sprintf("Snapshot: %s", time.Now().Format(time.RFC3339))
	}
	hash, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.opts.AuthorName,
			Email: g.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	g.log.Info("snapshot committed", zap.String("hash", hash.String()), zap.String("message", message))

	if g.opts.Push {
		if err := g.push(ctx); err != nil {
			return hash.String(), err
		}
	}
	return hash.String(), nil
}

func (g *Repo) push(ctx context.Context) error {
	remotes, err := g.repo.Remotes()
	if err != nil {
		return fmt.Errorf("failed to list remotes: %w", err)
	}
	if len(remotes) == 0 {
		return nil
	}

	opts := &git.PushOptions{}
	if g.opts.SSHKey != "" {
		keys, err := ssh.NewPublicKeysFromFile("git", g.opts.SSHKey, "")
		if err != nil {
			g.log.Warn("could not load SSH key, pushing without explicit auth", zap.Error(err))
		} else {
			opts.Auth = keys
		}
	}

	err = g.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// History returns the messages of the latest commits, newest first.
func (g *Repo) History(limit int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	head, err := g.repo.Head()
	if err != nil {
		return nil, nil
	}
	iter, err := g.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var out []string
	for len(out) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, c.Message)
	}
	return out, nil
}
