// Package workspace maintains per-project source checkouts. A workspace
// is cloned on first use and updated in place afterwards, always ending
// at the requested commit.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

// TokenFunc supplies the repository access token, or "" for anonymous
// access. Looked up per operation so settings changes apply immediately.
type TokenFunc func() string

// Manager prepares project workspaces.
type Manager struct {
	token TokenFunc
}

// NewManager creates a workspace manager. token may be nil.
func NewManager(token TokenFunc) *Manager {
	if token == nil {
		token = func() string { return "" }
	}
	return &Manager{token: token}
}

// Prepare ensures dir contains repoURL checked out at commit. When commit
// is empty the branch's remote head is used. Returns the commit hash the
// workspace ends up on.
func (m *Manager) Prepare(ctx context.Context, dir, repoURL, branch, commit string) (string, error) {
	repo, err := m.openOrClone(ctx, dir, repoURL, branch)
	if err != nil {
		return "", err
	}

	if err := m.fetch(ctx, repo); err != nil {
		return "", err
	}

	hash, err := m.resolve(repo, branch, commit)
	if err != nil {
		return "", err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return "", fmt.Errorf("checking out %s: %w", hash, err)
	}

	return hash.String(), nil
}

func (m *Manager) openOrClone(ctx context.Context, dir, repoURL, branch string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	log.Info("cloning repository", "url", repoURL, "dir", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace dir: %w", err)
	}

	repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		Auth:          m.auth(),
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
	}
	return repo, nil
}

func (m *Manager) fetch(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		Auth:  m.auth(),
		Force: true,
		Tags:  git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching: %w", err)
	}
	return nil
}

func (m *Manager) resolve(repo *git.Repository, branch, commit string) (plumbing.Hash, error) {
	if commit != "" {
		if !plumbing.IsHash(commit) {
			return plumbing.ZeroHash, fmt.Errorf("invalid commit hash %q", commit)
		}
		return plumbing.NewHash(commit), nil
	}

	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving origin/%s: %w", branch, err)
	}
	return ref.Hash(), nil
}

func (m *Manager) auth() transport.AuthMethod {
	token := m.token()
	if token == "" {
		return nil
	}
	// Any non-empty username works for token auth over HTTPS.
	return &githttp.BasicAuth{Username: "easycicd", Password: token}
}
