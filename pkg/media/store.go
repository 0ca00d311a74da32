// Package media persists inbound WhatsApp media on disk so the gateway
// can reference it by path instead of carrying bytes in the envelope.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	ID         string    `json:"id"`
	ChatJID    string    `json:"chat_jid"`
	MessageID  string    `json:"message_id"`
	StoredPath string    `json:"stored_path"`
	MIMEType   string    `json:"mime_type,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

type indexFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store is a day-partitioned on-disk blob store with a JSON index.
type Store struct {
	mu        sync.RWMutex
	rootPath  string
	indexPath string
	records   map[string]Record
}

func NewStore(root string) *Store {
	s := &Store{
		rootPath:  root,
		indexPath: filepath.Join(root, "index.json"),
		records:   map[string]Record{},
	}
	_ = os.MkdirAll(root, 0755)
	_ = s.load()
	return s
}

func (s *Store) RootPath() string {
	return s.rootPath
}

// Save writes one downloaded blob and records it in the index.
func (s *Store) Save(chatJID, messageID, mimeType string, data []byte) (Record, error) {
	now := time.Now().UTC()
	dayPath := filepath.Join(s.rootPath, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dayPath, 0755); err != nil {
		return Record{}, fmt.Errorf("mkdir media day path: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s", now.Format("150405"), uuid.NewString()[:8], extensionFor(mimeType))
	destPath := filepath.Join(dayPath, name)

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return Record{}, fmt.Errorf("write media file: %w", err)
	}

	sum := sha256.Sum256(data)
	rec := Record{
		ID:         "med_" + uuid.NewString(),
		ChatJID:    chatJID,
		MessageID:  messageID,
		StoredPath: destPath,
		MIMEType:   mimeType,
		SizeBytes:  int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		CreatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	if err := s.saveLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) GetByID(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func extensionFor(mimeType string) string {
	// Strip parameters like "; codecs=opus".
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	switch strings.TrimSpace(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		// Corrupt index loses history but never blocks startup.
		s.records = map[string]Record{}
		return nil
	}
	out := make(map[string]Record, len(idx.Records))
	for _, r := range idx.Records {
		out[r.ID] = r
	}
	s.records = out
	return nil
}

func (s *Store) saveLocked() error {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	data, err := json.MarshalIndent(indexFile{Version: 1, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal media index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write media index temp: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace media index: %w", err)
	}
	return nil
}
