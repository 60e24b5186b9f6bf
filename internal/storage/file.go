package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	logx "dealbot/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recentCap bounds the in-memory tail kept for RecentSends.
const recentCap = 200

// fileStore appends JSON Lines:
//   - <prefix>.audit.jsonl
//   - <prefix>.sends.jsonl
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
	sendsFile *os.File
	recent    []SendRecord // oldest first, at most recentCap
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sendsPath := prefix + ".sends.jsonl"
	recent, err := loadRecentSends(sendsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("send history unreadable; starting fresh tail", logx.String("path", sendsPath), logx.Err(err))
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	sf, err := os.OpenFile(sendsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	return &fileStore{log: log, auditFile: af, sendsFile: sf, recent: recent}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.sendsFile != nil {
		errs = append(errs, s.sendsFile.Close())
		s.sendsFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) AppendSend(ctx context.Context, r SendRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendsFile == nil {
		return errors.New("sends file closed")
	}
	if err := json.NewEncoder(s.sendsFile).Encode(r); err != nil {
		return err
	}
	s.recent = appendBounded(s.recent, r)
	return nil
}

func (s *fileStore) RecentSends(ctx context.Context, limit int) ([]SendRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]SendRecord, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func appendBounded(tail []SendRecord, r SendRecord) []SendRecord {
	tail = append(tail, r)
	if len(tail) > recentCap {
		tail = append([]SendRecord(nil), tail[len(tail)-recentCap:]...)
	}
	return tail
}

func loadRecentSends(path string) ([]SendRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []SendRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r SendRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		tail = appendBounded(tail, r)
	}
	return tail, sc.Err()
}
