package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"foxq/pkg/logx"
)

// fileStore keeps the document in <dir>/tasks.json and appends audit
// entries to <dir>/audit.jsonl.
//
// Save overwrites tasks.json in place unless atomic is set; a crash in the
// middle of a plain write can truncate the document.
type fileStore struct {
	log    logx.Logger
	atomic bool

	docPath string

	mu        sync.Mutex
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	docPath := filepath.Join(dir, "tasks.json")
	if _, err := os.Stat(docPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(docPath, emptyDocument, 0o644); err != nil {
			return nil, err
		}
		log.Info("created empty task document", logx.String("path", docPath))
	} else if err != nil {
		return nil, err
	}

	af, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		atomic:    cfg.AtomicWrite,
		docPath:   docPath,
		auditFile: af,
	}, nil
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Load(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.docPath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return emptyDocument, nil
	}
	return b, nil
}

func (s *fileStore) Save(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.atomic {
		return os.WriteFile(s.docPath, doc, 0o644)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.docPath), ".tasks-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.docPath)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
