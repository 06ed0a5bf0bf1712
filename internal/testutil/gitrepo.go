// Package testutil provides git repository fixtures for package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when no git binary is installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// NewBareRepo creates an empty bare repository standing in for the canonical one.
func NewBareRepo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(path, true)
	require.NoError(t, err)
	return path
}

// NewWorkingCopy creates a repository with one commit and returns it with its path.
func NewWorkingCopy(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "site")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	CommitFile(t, repo, dir, "index.rst", "Hello\n", "Initial commit")
	return repo, dir
}

// CommitFile writes one file and commits it.
func CommitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	return CommitFiles(t, repo, dir, map[string]string{name: content}, msg)
}

// CommitFiles writes files (name to content) and commits them together.
func CommitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(files[name]), 0644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// HeadBranch returns the short name of the checked-out branch.
func HeadBranch(t *testing.T, repo *git.Repository) string {
	t.Helper()
	head, err := repo.Head()
	require.NoError(t, err)
	return head.Name().Short()
}

// BranchHash returns the commit branch points at in the repository at path.
func BranchHash(t *testing.T, path, branch string) plumbing.Hash {
	t.Helper()
	repo, err := git.PlainOpen(path)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	return ref.Hash()
}

// Clone checks out the repository at url into a new temp directory.
func Clone(t *testing.T, url string) (*git.Repository, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{URL: url})
	require.NoError(t, err)
	return repo, dir
}

// PushConcurrentCommit makes the canonical repository advance past what the
// working copy has, as another author would.
func PushConcurrentCommit(t *testing.T, barePath string) {
	t.Helper()
	other, otherDir := Clone(t, barePath)
	CommitFile(t, other, otherDir, "other.rst", "Concurrent\n", "Concurrent edit")
	require.NoError(t, other.Push(&git.PushOptions{RemoteName: "origin"}))
}
