// Package gitrepo mirrors archived document versions into one git repository
// per subject, so the full edit history outlives the snapshot cap.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"siteeditor/api/internal/store"
)

const contentFile = "index.html"

var ErrInvalidSubject = errors.New("invalid subject id for repository path")

// Commit is one mirrored version as recorded in git.
type Commit struct {
	Hash      string
	Version   int64
	Source    string
	Message   string
	CreatedAt time.Time
}

type Mirror struct {
	baseDir string
	author  string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Mirror {
	return &Mirror{
		baseDir: baseDir,
		author:  "Site Editor",
		locks:   make(map[string]*sync.Mutex),
	}
}

// Put commits the snapshot content and tags the commit v<version>. Replaying
// a version that is already tagged is a no-op.
func (m *Mirror) Put(ctx context.Context, snap store.VersionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := m.repoPath(snap.SubjectID)
	if err != nil {
		return err
	}
	lock := m.subjectLock(snap.SubjectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return err
	}
	tag := versionTag(snap.Version)
	if _, err := repo.Tag(tag); err == nil {
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, contentFile), []byte(snap.Content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add content: %w", err)
	}

	when := snap.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(fmt.Sprintf("%s %s", tag, snap.Source), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  m.author,
			Email: "archive@siteeditor.local",
			When:  when,
		},
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", tag, err)
	}
	if _, err := repo.CreateTag(tag, hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("tag %s: %w", tag, err)
	}
	return nil
}

// History lists mirrored versions for a subject, newest first.
func (m *Mirror) History(subjectID string, limit int) ([]Commit, error) {
	path, err := m.repoPath(subjectID)
	if err != nil {
		return nil, err
	}
	lock := m.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommit(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the content mirrored for version.
func (m *Mirror) ContentAt(subjectID string, version int64) (string, error) {
	path, err := m.repoPath(subjectID)
	if err != nil {
		return "", err
	}
	lock := m.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Tag(versionTag(version))
	if errors.Is(err, git.ErrTagNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve tag: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("read commit: %w", err)
	}
	file, err := commit.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", contentFile, err)
	}
	return file.Contents()
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (m *Mirror) repoPath(subjectID string) (string, error) {
	if subjectID == "" || subjectID == "." || subjectID == ".." {
		return "", ErrInvalidSubject
	}
	for _, r := range subjectID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return "", ErrInvalidSubject
		}
	}
	return filepath.Join(m.baseDir, subjectID), nil
}

func (m *Mirror) subjectLock(subjectID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[subjectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[subjectID] = lock
	return lock
}

func versionTag(version int64) string {
	return fmt.Sprintf("v%d", version)
}

func toCommit(c *object.Commit) Commit {
	out := Commit{
		Hash:      c.Hash.String()[:7],
		Message:   strings.TrimSpace(c.Message),
		CreatedAt: c.Author.When,
	}
	tag, source, _ := strings.Cut(out.Message, " ")
	if _, err := fmt.Sscanf(tag, "v%d", &out.Version); err == nil {
		out.Source = source
	}
	return out
}
