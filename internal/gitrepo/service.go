// Package gitrepo keeps one git repository per uploaded file. Every save of
// a corrected extraction document becomes a commit, which gives reviewers a
// full revision history and field-level diffs between any two saves.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const documentFile = "document.json"

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureFileRepo creates the repository for an uploaded file and commits the
// raw extraction output as the baseline revision. Calling it again for an
// existing repository is a no-op.
func (s *Service) EnsureFileRepo(fileID string, initial json.RawMessage, author string) error {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(fileID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := normalizeDocument(initial)
	if err != nil {
		return fmt.Errorf("normalize initial document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, documentFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial document: %w", err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return fmt.Errorf("git add initial document: %w", err)
	}
	hash, err := worktree.Commit("Import extraction baseline", &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.proofbox.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit initial document: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitRevision writes a corrected document copy as a new commit on main.
func (s *Service) CommitRevision(fileID string, doc json.RawMessage, author, message string) (CommitInfo, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := normalizeDocument(doc)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("normalize document: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, documentFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write document: %w", err)
	}

	if _, err := worktree.Add(documentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add document: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.proofbox.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit document: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toCommitInfo(commitObj), nil
}

// GetHeadDocument returns the latest revision and its commit info.
func (s *Service) GetHeadDocument(fileID string) (json.RawMessage, CommitInfo, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	doc, err := readDocumentFromCommit(commitObj)
	if err != nil {
		return nil, CommitInfo{}, err
	}

	return doc, toCommitInfo(commitObj), nil
}

// GetDocumentByHash returns the document as of a specific revision. Short
// hashes are resolved against the repository.
func (s *Service) GetDocumentByHash(fileID, hash string) (json.RawMessage, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readDocumentFromCommit(commitObj)
}

func (s *Service) History(fileID string, limit int) ([]CommitInfo, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(fileID string) string {
	return filepath.Join(s.baseDir, fileID)
}

func (s *Service) fileLock(fileID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[fileID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[fileID] = lock
	return lock
}

func readDocumentFromCommit(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(documentFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", documentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open document reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read document bytes: %w", err)
	}
	return json.RawMessage(raw), nil
}

// FieldDiff is one metadata field that changed between two revisions.
type FieldDiff struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DiffMetadata compares the metadata sections of two document revisions and
// reports changed fields sorted by name. Part content changes are rolled up
// into a single "parts" entry.
func DiffMetadata(from, to json.RawMessage) ([]FieldDiff, error) {
	fromDoc, err := decodeEnvelope(from)
	if err != nil {
		return nil, fmt.Errorf("decode before revision: %w", err)
	}
	toDoc, err := decodeEnvelope(to)
	if err != nil {
		return nil, fmt.Errorf("decode after revision: %w", err)
	}

	keys := make(map[string]struct{})
	for key := range fromDoc.Metadata {
		keys[key] = struct{}{}
	}
	for key := range toDoc.Metadata {
		keys[key] = struct{}{}
	}

	result := make([]FieldDiff, 0)
	for key := range keys {
		before := renderValue(fromDoc.Metadata[key])
		after := renderValue(toDoc.Metadata[key])
		if before == after {
			continue
		}
		result = append(result, FieldDiff{Field: key, Before: before, After: after})
	}

	if !bytes.Equal(normalizeValue(fromDoc.Parts), normalizeValue(toDoc.Parts)) {
		result = append(result, FieldDiff{Field: "parts", Before: "[part content]", After: "[part content]"})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result, nil
}

// HasChanges reports whether two revisions differ at all.
func HasChanges(from, to json.RawMessage) bool {
	a, errA := normalizeDocument(from)
	b, errB := normalizeDocument(to)
	if errA != nil || errB != nil {
		return !bytes.Equal(from, to)
	}
	return !bytes.Equal(a, b)
}

type envelope struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Parts    json.RawMessage            `json:"parts"`
}

func decodeEnvelope(raw json.RawMessage) (envelope, error) {
	var doc envelope
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return envelope{}, err
	}
	return doc, nil
}

func renderValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(normalizeValue(raw))
}

func normalizeValue(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

// normalizeDocument pretty-prints the JSON so commits diff cleanly.
func normalizeDocument(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
