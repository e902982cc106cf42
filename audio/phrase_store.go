package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// PhraseStore keeps synthesized audio for a fixed set of phrases on disk so they
// survive restarts. Texts outside the set are never stored.
type PhraseStore struct {
	dir     string
	phrases map[string]bool
	mutex   sync.RWMutex
}

// NewPhraseStore creates the directory if needed
func NewPhraseStore(dir string, phrases ...string) *PhraseStore {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create phrase directory", "dir", dir, "error", err)
	}

	set := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		set[p] = true
	}
	return &PhraseStore{dir: dir, phrases: set}
}

func (s *PhraseStore) key(text, voiceID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", text, voiceID)))
	return hex.EncodeToString(hash[:])
}

func (s *PhraseStore) path(key string) string {
	return filepath.Join(s.dir, key+".mp3")
}

// Covers reports whether text belongs to the fixed phrase set
func (s *PhraseStore) Covers(text string) bool {
	return s.phrases[text]
}

// Load returns stored audio for a fixed phrase
func (s *PhraseStore) Load(ctx context.Context, text, voiceID string) ([]byte, bool) {
	if !s.Covers(text) {
		return nil, false
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p := s.path(s.key(text, voiceID))
	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read phrase audio", "path", p, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Save writes audio for a fixed phrase. Other texts are ignored.
func (s *PhraseStore) Save(ctx context.Context, text, voiceID string, data []byte) error {
	if !s.Covers(text) {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	p := s.path(s.key(text, voiceID))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write phrase audio: %w", err)
	}

	slog.Info("Stored phrase audio", "voice_id", voiceID, "size", len(data))
	return nil
}

// Clear removes every stored file
func (s *PhraseStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp3" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the number of stored phrases and their total size
func (s *PhraseStore) Stats() (int, int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".mp3" {
			count++
			if info, err := entry.Info(); err == nil {
				total += info.Size()
			}
		}
	}
	return count, total, nil
}
