package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/gofrs/flock"

	"shipflow/api/internal/workflow"
)

const (
	stateFile  = "state.json"
	mainBranch = "main"
)

var (
	ErrNoHistory       = errors.New("shipment has no ledger history")
	ErrUnknownRevision = errors.New("unknown ledger revision")
)

// Entry is one commit of a shipment ledger.
type Entry struct {
	Hash      string             `json:"hash"`
	Message   string             `json:"message"`
	Actor     string             `json:"actor"`
	EventID   string             `json:"eventId"`
	EventType workflow.EventType `json:"eventType"`
	Stage     int                `json:"stage"`
	At        string             `json:"at"`
}

// Service keeps one git repository per shipment and commits the shipment
// snapshot for every workflow event.
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

func (s *Service) HandleEvent(_ context.Context, event workflow.Event) error {
	unlock, err := s.lock(event.ShipmentID)
	if err != nil {
		return err
	}
	defer unlock()

	repo, err := s.openOrInit(event.ShipmentID)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(event.Shipment, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shipment state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), stateFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", stateFile, err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return fmt.Errorf("git add state: %w", err)
	}

	// stage.approved and stage.advanced share a snapshot, so the second
	// commit may be empty.
	_, err = worktree.Commit(commitMessage(event), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  event.Actor,
			Email: authorEmail(event.Actor),
			When:  event.At,
		},
	})
	if err != nil {
		return fmt.Errorf("commit %s for %s: %w", event.Type, event.ShipmentID, err)
	}
	return nil
}

// History lists ledger entries newest first. limit <= 0 returns everything.
func (s *Service) History(shipmentID string, limit int) ([]Entry, error) {
	unlock, err := s.lock(shipmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo, err := git.PlainOpen(s.repoPath(shipmentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
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

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj))
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

// StateAt returns the shipment snapshot recorded by the given commit.
func (s *Service) StateAt(shipmentID, hash string) (workflow.Shipment, error) {
	unlock, err := s.lock(shipmentID)
	if err != nil {
		return workflow.Shipment{}, err
	}
	defer unlock()

	repo, err := git.PlainOpen(s.repoPath(shipmentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return workflow.Shipment{}, ErrNoHistory
	}
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("%w %s: %v", ErrUnknownRevision, hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(stateFile)
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("read %s at %s: %w", stateFile, hash, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return workflow.Shipment{}, fmt.Errorf("read %s contents: %w", stateFile, err)
	}
	var shipment workflow.Shipment
	if err := json.Unmarshal([]byte(contents), &shipment); err != nil {
		return workflow.Shipment{}, fmt.Errorf("decode %s: %w", stateFile, err)
	}
	return shipment, nil
}

func (s *Service) openOrInit(shipmentID string) (*git.Repository, error) {
	path := s.repoPath(shipmentID)
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
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(shipmentID string) string {
	return filepath.Join(s.baseDir, dirName(shipmentID))
}

// lock serializes access to one shipment repository within the process and
// across processes sharing baseDir.
func (s *Service) lock(shipmentID string) (func(), error) {
	s.lockMu.Lock()
	mu, ok := s.locks[shipmentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[shipmentID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	// "_l" is never an escape dirName emits, so no repo directory can clash.
	fileLock := flock.New(filepath.Join(s.baseDir, dirName(shipmentID)+"_lock"))
	if err := fileLock.Lock(); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquire ledger lock for %s: %w", shipmentID, err)
	}
	return func() {
		_ = fileLock.Unlock()
		mu.Unlock()
	}, nil
}

func commitMessage(event workflow.Event) string {
	var subject string
	switch event.Type {
	case workflow.EventShipmentCreated:
		subject = fmt.Sprintf("Create shipment %s with %d stages", event.ShipmentID, event.Shipment.StageCount())
	case workflow.EventDocumentUploaded:
		subject = fmt.Sprintf("Upload %s for stage %d", event.Document, event.Stage)
	case workflow.EventStageApproved:
		subject = fmt.Sprintf("Approve stage %d", event.Stage)
	case workflow.EventStageAdvanced:
		subject = fmt.Sprintf("Advance to stage %d", event.Stage)
	case workflow.EventShipmentFinalized:
		subject = fmt.Sprintf("Finalize shipment %s", event.ShipmentID)
	default:
		subject = string(event.Type)
	}
	return fmt.Sprintf("%s\n\nEvent-Id: %s\nEvent-Type: %s\nStage: %d\n", subject, event.ID, event.Type, event.Stage)
}

func toEntry(commitObj *object.Commit) Entry {
	entry := Entry{
		Hash:    commitObj.Hash.String()[:7],
		Message: strings.TrimSpace(strings.SplitN(commitObj.Message, "\n", 2)[0]),
		Actor:   commitObj.Author.Name,
		At:      commitObj.Author.When.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, line := range strings.Split(commitObj.Message, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "Event-Id":
			entry.EventID = value
		case "Event-Type":
			entry.EventType = workflow.EventType(value)
		case "Stage":
			if stage, err := strconv.Atoi(value); err == nil {
				entry.Stage = stage
			}
		}
	}
	return entry
}

func authorEmail(actor string) string {
	if strings.Contains(actor, "@") {
		return actor
	}
	return sanitizeEmail(actor) + "@ledger.shipflow.local"
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
		return "actor"
	}
	return string(out)
}

// dirName maps a shipment id to a single safe path element. Letters,
// digits, '-' and non-leading '.' are kept; every other byte becomes _XX,
// so distinct ids never share a directory.
func dirName(shipmentID string) string {
	if shipmentID == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(shipmentID); i++ {
		c := shipmentID[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'), c == '-', c == '.' && i > 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}
