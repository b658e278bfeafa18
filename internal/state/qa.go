// internal/state/qa.go
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const qaFileVersion = "1.0"

// QAPair is a stored question/answer exchange.
type QAPair struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Created    time.Time `json:"created"`
	UsageCount int       `json:"usage_count"`
}

// QAMetadata describes the Q&A file.
type QAMetadata struct {
	Created      time.Time  `json:"created"`
	Version      string     `json:"version"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	TotalQAPairs int        `json:"total_qa_pairs"`
}

type qaFile struct {
	Metadata QAMetadata         `json:"metadata"`
	Pairs    map[string]*QAPair `json:"qa_pairs"`
}

// QAStats is returned by QAStore.Stats.
type QAStats struct {
	TotalQAPairs int        `json:"total_qa_pairs"`
	FileSize     int64      `json:"file_size"`
	Created      time.Time  `json:"created"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// QAStore is a JSON-file-backed cache of question/answer pairs keyed by the
// normalized question.
type QAStore struct {
	path string
	mu   sync.Mutex
}

// NewQAStore creates a QAStore at the given file path. The file is created
// on first write.
func NewQAStore(path string) *QAStore {
	return &QAStore{path: path}
}

// Path returns the file path used by this store.
func (s *QAStore) Path() string {
	return s.path
}

var trailingPunct = regexp.MustCompile(`[.,!?;:()]+$`)

// NormalizeQuestion lowercases the question, collapses whitespace and strips
// trailing punctuation so trivially different phrasings share a key.
func NormalizeQuestion(q string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(q), " "))
	return trailingPunct.ReplaceAllString(normalized, "")
}

// Save stores or replaces the answer for question.
func (s *QAStore) Save(question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	data.Pairs[NormalizeQuestion(question)] = &QAPair{
		Question:   question,
		Answer:     answer,
		Created:    time.Now(),
		UsageCount: 1,
	}
	return s.save(data)
}

// Lookup returns the cached answer for question and bumps its usage count.
func (s *QAStore) Lookup(question string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	pair, ok := data.Pairs[NormalizeQuestion(question)]
	if !ok {
		return "", false
	}
	pair.UsageCount++
	if err := s.save(data); err != nil {
		slog.Warn("failed to record qa usage", "error", err)
	}
	return pair.Answer, true
}

// List returns all pairs sorted by creation time, oldest first.
func (s *QAStore) List() []*QAPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	pairs := make([]*QAPair, 0, len(data.Pairs))
	for _, p := range data.Pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Created.Before(pairs[j].Created) })
	return pairs
}

// Stats reports the number of pairs and file metadata.
func (s *QAStore) Stats() QAStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	stats := QAStats{
		TotalQAPairs: len(data.Pairs),
		Created:      data.Metadata.Created,
		LastUpdated:  data.Metadata.LastUpdated,
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.FileSize = info.Size()
	}
	return stats
}

// Clear drops every pair and rewrites an empty file.
func (s *QAStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(newQAFile())
}

// Prune keeps the max most recently created pairs and reports how many were
// removed. A non-positive max disables pruning.
func (s *QAStore) Prune(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	over := len(data.Pairs) - max
	if over <= 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(data.Pairs))
	for k := range data.Pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return data.Pairs[keys[i]].Created.Before(data.Pairs[keys[j]].Created)
	})
	for _, k := range keys[:over] {
		delete(data.Pairs, k)
	}
	return over, s.save(data)
}

func newQAFile() *qaFile {
	return &qaFile{
		Metadata: QAMetadata{Created: time.Now(), Version: qaFileVersion},
		Pairs:    make(map[string]*QAPair),
	}
}

// load reads the file, returning a fresh structure when it is missing or
// corrupt. A corrupt file is replaced on the next save.
func (s *QAStore) load() *qaFile {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to read qa file", "path", s.path, "error", err)
		}
		return newQAFile()
	}

	var data qaFile
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("qa file corrupted, recreating", "path", s.path, "error", err)
		return newQAFile()
	}
	if data.Pairs == nil {
		data.Pairs = make(map[string]*QAPair)
	}
	if data.Metadata.Version == "" {
		data.Metadata = QAMetadata{Created: time.Now(), Version: qaFileVersion}
	}
	return &data
}

// save writes the file atomically (temp file + rename).
func (s *QAStore) save(data *qaFile) error {
	now := time.Now()
	data.Metadata.LastUpdated = &now
	data.Metadata.TotalQAPairs = len(data.Pairs)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal qa pairs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create qa dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp qa file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp qa file: %w", err)
	}
	return nil
}
