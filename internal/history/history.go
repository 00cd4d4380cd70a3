// Package history keeps a git repository per note so every saved change
// becomes a revision that can be listed and read back.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"studynotes/api/internal/store"
)

const snapshotFile = "note.json"

var (
	ErrNotFound         = errors.New("history: note has no revisions")
	ErrRevisionNotFound = errors.New("history: revision not found")
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{4,40}$`)

// Snapshot is the persisted shape of a note at one revision.
type Snapshot struct {
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Type      string   `json:"type"`
	Excerpt   string   `json:"excerpt"`
	Content   string   `json:"content"`
	AudioURL  string   `json:"audioUrl,omitempty"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

func SnapshotOf(note store.Note) Snapshot {
	return Snapshot{
		Title:     note.Title,
		Date:      note.Date,
		Type:      note.Type,
		Excerpt:   note.Excerpt,
		Content:   note.Content,
		AudioURL:  note.AudioURL,
		ImageURLs: append([]string(nil), note.ImageURLs...),
	}
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Change is one field that differs between a revision and its parent.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Service struct {
	baseDir string
	author  string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir, author string) *Service {
	if strings.TrimSpace(author) == "" {
		author = "Study Notes"
	}
	return &Service{
		baseDir: baseDir,
		author:  author,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records snap as the newest revision of noteID, creating the
// repository on first use. An unchanged snapshot returns the current head.
func (s *Service) Commit(noteID string, snap Snapshot, message string) (Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = s.initRepo(noteID)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("open repo: %w", err)
	}

	if head, err := repo.Head(); err == nil {
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Revision{}, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readSnapshot(commitObj)
		if err != nil {
			return Revision{}, err
		}
		if !HasChanges(current, snap) {
			return toRevision(commitObj), nil
		}
	}

	hash, err := s.commit(repo, snap, message)
	if err != nil {
		return Revision{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first; limit <= 0 means all.
func (s *Service) History(noteID string, limit int) ([]Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, ErrNotFound
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
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

// At returns the snapshot stored at hash together with the fields it
// changed relative to its parent.
func (s *Service) At(noteID, hash string) (Snapshot, Revision, []Change, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return Snapshot{}, Revision{}, nil, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Revision{}, nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, Revision{}, nil, ErrRevisionNotFound
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, nil, err
	}

	var parent Snapshot
	if commitObj.NumParents() > 0 {
		parentObj, err := commitObj.Parent(0)
		if err != nil {
			return Snapshot{}, Revision{}, nil, fmt.Errorf("load parent commit: %w", err)
		}
		if parent, err = readSnapshot(parentObj); err != nil {
			return Snapshot{}, Revision{}, nil, err
		}
	}
	return snap, toRevision(commitObj), DiffFields(parent, snap), nil
}

// Remove deletes the note's repository. A missing repository is not an error.
func (s *Service) Remove(noteID string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(noteID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}

	s.lockMu.Lock()
	delete(s.locks, noteID)
	s.lockMu.Unlock()
	return nil
}

func (s *Service) open(noteID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(noteID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) initRepo(noteID string) (*git.Repository, error) {
	path := s.repoPath(noteID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(noteID string) string {
	return filepath.Join(s.baseDir, noteID)
}

func (s *Service) noteLock(noteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[noteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[noteID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, snap Snapshot, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.author,
			Email: fmt.Sprintf("%s@studynotes.local", sanitizeEmail(s.author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func DiffFields(from, to Snapshot) []Change {
	pairs := []Change{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "date", Before: from.Date, After: to.Date},
		{Field: "type", Before: from.Type, After: to.Type},
		{Field: "excerpt", Before: from.Excerpt, After: to.Excerpt},
		{Field: "content", Before: from.Content, After: to.Content},
		{Field: "audioUrl", Before: from.AudioURL, After: to.AudioURL},
		{Field: "imageUrls", Before: strings.Join(from.ImageURLs, "\n"), After: strings.Join(to.ImageURLs, "\n")},
	}
	result := make([]Change, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

func HasChanges(from, to Snapshot) bool {
	return len(DiffFields(from, to)) > 0
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !hashPattern.MatchString(hash) {
		return plumbing.ZeroHash, ErrRevisionNotFound
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, ErrRevisionNotFound
	}
	return *resolved, nil
}
