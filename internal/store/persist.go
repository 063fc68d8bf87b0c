package store

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// record is the on-disk JSONL shape for one Message. It mirrors Message
// field-for-field rather than embedding it directly so that the wire
// format stays stable even if in-memory field types change.
type record struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Blocks    []blockRecord   `json:"blocks"`
	CreatedAt time.Time       `json:"created_at"`
	Usage     *Usage          `json:"usage,omitempty"`
}

type blockRecord struct {
	Kind                 BlockKind      `json:"kind"`
	Text                 string         `json:"text,omitempty"`
	ToolID               string         `json:"tool_id,omitempty"`
	ToolName             string         `json:"tool_name,omitempty"`
	RawArguments         string         `json:"raw_arguments,omitempty"`
	ParsedArguments      map[string]any `json:"parsed_arguments,omitempty"`
	CompactParams        string         `json:"compact_params,omitempty"`
	Stage                ToolStage      `json:"stage,omitempty"`
	ResultText           string         `json:"result_text,omitempty"`
	ShortResult          string         `json:"short_result,omitempty"`
	Success              bool           `json:"success,omitempty"`
	ErrorText            string         `json:"error_text,omitempty"`
	ManuallyBackgrounded bool           `json:"manually_backgrounded,omitempty"`
	DiffPath             string         `json:"diff_path,omitempty"`
	DiffText             string         `json:"diff_text,omitempty"`
	SubagentID           string         `json:"subagent_id,omitempty"`
	SubagentType         string         `json:"subagent_type,omitempty"`
	SnapshotPath         string         `json:"snapshot_path,omitempty"`
	SnapshotID           string         `json:"snapshot_id,omitempty"`
	CompressSummary      string         `json:"compress_summary,omitempty"`
	CompressUsage        *Usage         `json:"compress_usage,omitempty"`
}

func toRecord(m Message) record {
	blocks := make([]blockRecord, len(m.Blocks))
	for i, b := range m.Blocks {
		blocks[i] = blockRecord{
			Kind: b.Kind, Text: b.Text,
			ToolID: b.ToolID, ToolName: b.ToolName, RawArguments: b.RawArguments,
			ParsedArguments: b.ParsedArguments, CompactParams: b.CompactParams,
			Stage: b.Stage, ResultText: b.ResultText, ShortResult: b.ShortResult,
			Success: b.Success, ErrorText: b.ErrorText,
			ManuallyBackgrounded: b.ManuallyBackgrounded,
			DiffPath:             b.DiffPath, DiffText: b.DiffText,
			SubagentID: b.SubagentID, SubagentType: b.SubagentType,
			SnapshotPath: b.SnapshotPath, SnapshotID: b.SnapshotID,
			CompressSummary: b.CompressSummary, CompressUsage: b.CompressUsage,
		}
	}
	return record{ID: m.ID, Role: m.Role, Blocks: blocks, CreatedAt: m.CreatedAt, Usage: m.Usage}
}

func fromRecord(r record) Message {
	blocks := make([]Block, len(r.Blocks))
	for i, b := range r.Blocks {
		blocks[i] = Block{
			Kind: b.Kind, Text: b.Text,
			ToolID: b.ToolID, ToolName: b.ToolName, RawArguments: b.RawArguments,
			ParsedArguments: b.ParsedArguments, CompactParams: b.CompactParams,
			Stage: b.Stage, ResultText: b.ResultText, ShortResult: b.ShortResult,
			Success: b.Success, ErrorText: b.ErrorText,
			ManuallyBackgrounded: b.ManuallyBackgrounded,
			DiffPath:             b.DiffPath, DiffText: b.DiffText,
			SubagentID: b.SubagentID, SubagentType: b.SubagentType,
			SnapshotPath: b.SnapshotPath, SnapshotID: b.SnapshotID,
			CompressSummary: b.CompressSummary, CompressUsage: b.CompressUsage,
		}
	}
	return Message{ID: r.ID, Role: r.Role, Blocks: blocks, CreatedAt: r.CreatedAt, Usage: r.Usage}
}

// Store persists session histories as append-only JSONL files under
// dir/<cwd-hash>/sessions/<id>.jsonl, mirroring the teacher's
// per-project hashed directory layout but replacing its whole-file
// rewrite with true line-append semantics.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir (typically
// "~/.claude/projects" equivalent for this module).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// ProjectHash derives the stable per-working-directory directory name,
// matching the teacher's sha256(cwd)[:16] convention.
func ProjectHash(cwd string) string {
	sum := sha256.Sum256([]byte(cwd))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) sessionsDir(cwd string) string {
	return filepath.Join(s.dir, ProjectHash(cwd), "sessions")
}

func (s *Store) sessionPath(cwd, id string) string {
	return filepath.Join(s.sessionsDir(cwd), id+".jsonl")
}

// GenerateID mints a new session identifier.
func GenerateID() string {
	return uuid.NewString()
}

// Create ensures the session directory exists and returns the path a
// new session's JSONL file will live at; it does not write anything.
func (s *Store) Create(cwd, id string) (string, error) {
	dir := s.sessionsDir(cwd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create session dir: %w", err)
	}
	return s.sessionPath(cwd, id), nil
}

// Persist appends messages[fromIndex:] to the session's JSONL file,
// one JSON object per line. Callers track fromIndex (typically
// len(history.Messages) before the turn started) so repeated calls
// during a streaming turn only append what's new — this is the single
// writer per session invariant spec.md §3 requires.
func (s *Store) Persist(cwd, id string, messages []Message, fromIndex int) error {
	if fromIndex >= len(messages) {
		return nil
	}
	path, err := s.Create(cwd, id)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open session file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, m := range messages[fromIndex:] {
		if err := enc.Encode(toRecord(m)); err != nil {
			return fmt.Errorf("store: encode message %s: %w", m.ID, err)
		}
	}
	return w.Flush()
}

// Load reads a full session history back from its JSONL file.
func (s *Store) Load(cwd, id string) (*History, error) {
	path := s.sessionPath(cwd, id)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open session file: %w", err)
	}
	defer f.Close()

	h := NewHistory(id)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("store: decode line: %w", err)
		}
		h.Append(fromRecord(r))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan session file: %w", err)
	}
	return h, nil
}

// sessionInfo describes one session file for listing/most-recent lookup.
type sessionInfo struct {
	ID      string
	ModTime time.Time
}

// List returns session IDs for cwd, most recently modified first.
func (s *Store) List(cwd string) ([]string, error) {
	dir := s.sessionsDir(cwd)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read session dir: %w", err)
	}
	infos := make([]sessionInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, sessionInfo{
			ID:      e.Name()[:len(e.Name())-len(".jsonl")],
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModTime.After(infos[j].ModTime) })
	ids := make([]string, len(infos))
	for i, inf := range infos {
		ids[i] = inf.ID
	}
	return ids, nil
}

// MostRecent returns the most recently modified session ID for cwd, or
// "" if none exist.
func (s *Store) MostRecent(cwd string) (string, error) {
	ids, err := s.List(cwd)
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}
