// Package rewind implements the turn-indexed state machine that captures
// before/after file contents around each turn and can restore any prior
// turn's state. It owns the RewindState and the Snapshot Store view of the
// current session exclusively.
package rewind

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pocketomega/loco/internal/snapshot"
)

// Conflict describes a mismatch between the expected content of a path
// (per its most recent checkpoint) and what is currently on disk.
type Conflict struct {
	Path            string
	ExpectedContent *string
	ActualContent   *string
}

// sessionDoc is the JSON shape persisted to rewind.json. It deliberately
// omits full file contents — those live in the Snapshot Store.
type sessionDoc struct {
	SessionID      string          `json:"session_id"`
	WorkingDir     string          `json:"working_dir"`
	GitBranch      string          `json:"git_branch,omitempty"`
	GitHead        string          `json:"git_head,omitempty"`
	CurrentTurn    int             `json:"current_turn"`
	OriginalsExist map[string]bool `json:"originals_existed"`
	Turns          []int           `json:"turns"`
}

// Manager owns a session's RewindState and mediates every turn-boundary
// capture and every rewind operation.
type Manager struct {
	store      *snapshot.Store
	sessionID  string
	workingDir string
	gitBranch  string
	gitHead    string

	currentTurn    int
	originalsSeen  map[string]bool // path -> existed, for this session lifetime
	turnNumbers    []int           // ascending, recorded turn numbers
	inTurn         bool
	pendingChanges map[string]*snapshot.FileChange // path -> change, current turn only
	turnOrder      []string                        // path insertion order for the current turn
}

// NewManager constructs a Manager backed by store. If rewind.json already
// exists in the session directory, its state is loaded; otherwise a fresh
// session is initialized.
func NewManager(store *snapshot.Store, sessionID, workingDir string) (*Manager, error) {
	m := &Manager{
		store:         store,
		sessionID:     sessionID,
		workingDir:    workingDir,
		originalsSeen: make(map[string]bool),
	}

	var doc sessionDoc
	found, err := store.LoadSessionState(&doc)
	if err != nil {
		return nil, fmt.Errorf("rewind: load session state: %w", err)
	}
	if found {
		m.sessionID = doc.SessionID
		m.workingDir = doc.WorkingDir
		m.gitBranch = doc.GitBranch
		m.gitHead = doc.GitHead
		m.currentTurn = doc.CurrentTurn
		m.turnNumbers = append([]int(nil), doc.Turns...)
		for p, existed := range doc.OriginalsExist {
			m.originalsSeen[p] = existed
		}
	}
	return m, nil
}

// SetGitContext records the Git branch/HEAD observed at session start.
func (m *Manager) SetGitContext(branch, head string) {
	m.gitBranch = branch
	m.gitHead = head
}

// CurrentTurn returns RewindState.current_turn.
func (m *Manager) CurrentTurn() int { return m.currentTurn }

func (m *Manager) persist() error {
	doc := sessionDoc{
		SessionID:      m.sessionID,
		WorkingDir:     m.workingDir,
		GitBranch:      m.gitBranch,
		GitHead:        m.gitHead,
		CurrentTurn:    m.currentTurn,
		OriginalsExist: m.originalsSeen,
		Turns:          m.turnNumbers,
	}
	return m.store.SaveSessionState(&doc)
}

// BeginTurn clears the per-turn change set. Idle → InTurn.
func (m *Manager) BeginTurn() {
	m.inTurn = true
	m.pendingChanges = make(map[string]*snapshot.FileChange)
	m.turnOrder = nil
}

// CaptureBefore canonicalizes path, reads its current content (or records
// its non-existence) once per path per turn, and — on this path's first
// capture session-wide — records the originals entry.
func (m *Manager) CaptureBefore(path string) error {
	canon := canonicalize(path)

	if _, ok := m.pendingChanges[canon]; ok {
		return nil // already captured this turn
	}

	existed, content, err := readCurrent(canon)
	if err != nil {
		return fmt.Errorf("rewind: capture_before %s: %w", canon, err)
	}

	if _, seen := m.originalsSeen[canon]; !seen {
		var saveContent []byte
		if existed {
			saveContent = content
		}
		if err := m.store.SaveOriginal(canon, saveContent, existed); err != nil {
			return fmt.Errorf("rewind: save original %s: %w", canon, err)
		}
		m.originalsSeen[canon] = existed
	}

	change := &snapshot.FileChange{Path: canon}
	if existed {
		before := string(content)
		change.ContentBefore = &before
	}
	m.pendingChanges[canon] = change
	m.turnOrder = append(m.turnOrder, canon)
	return nil
}

// CaptureAfter updates the current turn's change for path. If
// CaptureBefore was not called for path this turn, the change is
// reconstructed using the recorded original as content_before. Kind is
// auto-inferred from the before/after pair when kind is "".
func (m *Manager) CaptureAfter(path string, content *string, kind snapshot.ChangeKind) error {
	canon := canonicalize(path)

	change, ok := m.pendingChanges[canon]
	if !ok {
		change = &snapshot.FileChange{Path: canon}
		if existed, seen := m.originalsSeen[canon]; seen && existed {
			_, origContent, _, err := m.store.LoadOriginal(canon)
			if err != nil {
				return fmt.Errorf("rewind: reconstruct before for %s: %w", canon, err)
			}
			before := string(origContent)
			change.ContentBefore = &before
		}
		m.pendingChanges[canon] = change
		m.turnOrder = append(m.turnOrder, canon)
	}

	change.ContentAfter = content
	if kind == "" {
		kind = inferKind(change.ContentBefore, change.ContentAfter)
	}
	change.Kind = kind
	return nil
}

func inferKind(before, after *string) snapshot.ChangeKind {
	switch {
	case before == nil && after != nil:
		return snapshot.Created
	case before != nil && after == nil:
		return snapshot.Deleted
	default:
		return snapshot.Modified
	}
}

// EndTurn increments current_turn, appends a TurnCheckpoint, persists it
// via the Store, and clears the per-turn set. InTurn → Idle.
func (m *Manager) EndTurn(messageIndex int, summary string) error {
	m.currentTurn++

	var changes []snapshot.FileChange
	for _, path := range m.turnOrder {
		changes = append(changes, *m.pendingChanges[path])
	}

	cp := snapshot.TurnCheckpoint{
		TurnNumber:   m.currentTurn,
		MessageIndex: messageIndex,
		Timestamp:    time.Now(),
		Changes:      changes,
		Summary:      summary,
	}

	if err := m.store.SaveTurn(cp); err != nil {
		return fmt.Errorf("rewind: end_turn save: %w", err)
	}

	m.turnNumbers = append(m.turnNumbers, m.currentTurn)
	m.inTurn = false
	m.pendingChanges = nil
	m.turnOrder = nil

	return m.persist()
}

// RewindResult is the outcome of RewindToTurn.
type RewindResult struct {
	OK        bool
	Restored  []string
	Conflicts []Conflict
	Messages  []string
}

// restoreEntry is one path's computed restoration target plus the content
// expected to currently be on disk, for conflict validation.
type restoreEntry struct {
	path    string
	target  *string // nil = delete
	lastAft *string // expected current content, from the path's latest checkpoint <= current_turn
}

// computeRestorePlan runs steps 1-3 of the rewind algorithm without
// mutating any state: it determines what each affected path should be
// restored to and flags any path whose current on-disk content diverges
// from what the last checkpoint recorded.
func (m *Manager) computeRestorePlan(n int) ([]restoreEntry, []Conflict, error) {
	// Step 1: gather all checkpoints with turn_number > n, ascending.
	var toUndo []int
	for _, t := range m.turnNumbers {
		if t > n {
			toUndo = append(toUndo, t)
		}
	}
	sort.Ints(toUndo)

	checkpoints := make(map[int]snapshot.TurnCheckpoint, len(toUndo))
	for _, t := range toUndo {
		cp, found, err := m.store.LoadTurn(t)
		if err != nil {
			return nil, nil, fmt.Errorf("rewind: load turn %d: %w", t, err)
		}
		if found {
			checkpoints[t] = cp
		}
	}

	// Step 2: for each path touched after n, the restore target is its
	// content_after in the latest checkpoint <= n that touched it (set in
	// the loop below); failing that, the content_before of its earliest
	// post-n occurrence, which LoadTurn fills from the originals.
	restoreTarget := make(map[string]*string)
	order := []string{}
	for _, t := range toUndo {
		cp, ok := checkpoints[t]
		if !ok {
			continue
		}
		for _, ch := range cp.Changes {
			if _, seen := restoreTarget[ch.Path]; !seen {
				restoreTarget[ch.Path] = ch.ContentBefore
				order = append(order, ch.Path)
			}
		}
	}

	// The latest checkpoint (<= current_turn) touching each path gives the
	// expected current content for conflict validation.
	expectedCurrent := make(map[string]*string)
	for _, t := range m.turnNumbers {
		if t > m.currentTurn {
			continue
		}
		cp, found, err := m.store.LoadTurn(t)
		if err != nil {
			return nil, nil, fmt.Errorf("rewind: load turn %d: %w", t, err)
		}
		if !found {
			continue
		}
		for _, ch := range cp.Changes {
			if _, needed := restoreTarget[ch.Path]; needed {
				expectedCurrent[ch.Path] = ch.ContentAfter
				if t <= n {
					restoreTarget[ch.Path] = ch.ContentAfter
				}
			}
		}
	}

	var entries []restoreEntry
	for _, p := range order {
		entries = append(entries, restoreEntry{path: p, target: restoreTarget[p], lastAft: expectedCurrent[p]})
	}

	// Step 3: conflict validation.
	var conflicts []Conflict
	for _, e := range entries {
		existed, actual, err := readCurrent(e.path)
		if err != nil {
			return nil, nil, fmt.Errorf("rewind: read current %s: %w", e.path, err)
		}
		var actualPtr *string
		if existed {
			s := string(actual)
			actualPtr = &s
		}
		if !equalContent(e.lastAft, actualPtr) {
			conflicts = append(conflicts, Conflict{
				Path:            e.path,
				ExpectedContent: e.lastAft,
				ActualContent:   actualPtr,
			})
		}
	}

	return entries, conflicts, nil
}

// ValidateBeforeRewind runs the conflict-detection step of RewindToTurn
// (steps 1-3) without applying any restorations or mutating RewindState.
func (m *Manager) ValidateBeforeRewind(n int) ([]Conflict, error) {
	if n < 0 || n > m.currentTurn {
		return nil, fmt.Errorf("rewind: target turn %d out of range [0, %d]", n, m.currentTurn)
	}
	_, conflicts, err := m.computeRestorePlan(n)
	return conflicts, err
}

// RewindToTurn restores the file system (and RewindState) to the state at
// the end of turn n, per the five-step algorithm in the rewind contract.
func (m *Manager) RewindToTurn(n int, force bool) (RewindResult, error) {
	if n < 0 || n > m.currentTurn {
		return RewindResult{OK: false}, fmt.Errorf("rewind: target turn %d out of range [0, %d]", n, m.currentTurn)
	}

	entries, conflicts, err := m.computeRestorePlan(n)
	if err != nil {
		return RewindResult{}, err
	}

	if len(conflicts) > 0 && !force {
		return RewindResult{OK: false, Conflicts: conflicts}, nil
	}

	// Step 4: apply restorations.
	var restored []string
	var messages []string
	for _, e := range entries {
		if err := applyRestore(e.path, e.target); err != nil {
			messages = append(messages, fmt.Sprintf("failed to restore %s: %v", e.path, err))
			continue
		}
		restored = append(restored, e.path)
	}

	// Step 5: prune checkpoints with turn_number > n; set current_turn = n.
	var kept []int
	for _, t := range m.turnNumbers {
		if t <= n {
			kept = append(kept, t)
		}
	}
	m.turnNumbers = kept
	m.currentTurn = n
	if err := m.persist(); err != nil {
		return RewindResult{}, err
	}

	return RewindResult{OK: true, Restored: restored, Conflicts: conflicts, Messages: messages}, nil
}

// RewindConversationOnly performs step 5 of RewindToTurn without touching
// the filesystem — used to restart the conversation from an earlier point
// while keeping current files.
func (m *Manager) RewindConversationOnly(n int) error {
	if n < 0 || n > m.currentTurn {
		return fmt.Errorf("rewind: target turn %d out of range [0, %d]", n, m.currentTurn)
	}
	var kept []int
	for _, t := range m.turnNumbers {
		if t <= n {
			kept = append(kept, t)
		}
	}
	m.turnNumbers = kept
	m.currentTurn = n
	return m.persist()
}

// GetMessageIndexForTurn returns the message-log index recorded at the end
// of turn n, or -1 if no such checkpoint is recorded (n==0 always means "no
// messages", i.e. index 0).
func (m *Manager) GetMessageIndexForTurn(n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	cp, found, err := m.store.LoadTurn(n)
	if err != nil {
		return -1, fmt.Errorf("rewind: load turn %d: %w", n, err)
	}
	if !found {
		return -1, fmt.Errorf("rewind: no checkpoint recorded for turn %d", n)
	}
	return cp.MessageIndex, nil
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func readCurrent(path string) (existed bool, content []byte, err error) {
	content, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, content, nil
}

func applyRestore(path string, target *string) error {
	if target == nil {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(*target), 0o644)
}

func equalContent(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
