package parley

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ledgerStore persists the quota ledger as a single JSON file of
// shape {user_id: {"count": N, "reset_time": "<RFC3339>"}}. The whole
// ledger is rewritten on every flush; at the user counts this bot
// sees, correctness beats efficiency.
type ledgerStore struct {
	path   string
	logger *slog.Logger

	// serializes concurrent flushes so one write can't clobber
	// another mid-rewrite
	mu sync.Mutex
}

func newLedgerStore(path string, logger *slog.Logger) *ledgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledgerStore{path: path, logger: logger}
}

// Load reads the ledger file. A missing file is a normal first run
// and yields an empty ledger; a file that exists but can't be parsed
// is an error, so corrupt state stops startup instead of being
// silently discarded.
func (s *ledgerStore) Load() (map[string]*UserQuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*UserQuotaRecord{}, nil
		}
		return nil, fmt.Errorf("error reading ledger %s: %w", s.path, err)
	}

	records := map[string]*UserQuotaRecord{}
	if err = json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error parsing ledger %s: %w", s.path, err)
	}
	return records, nil
}

// Flush rewrites the ledger file with the given records. The write
// goes to a temp file in the same directory and is renamed into
// place, so a failed write leaves the previously-durable ledger
// intact.
func (s *ledgerStore) Flush(records map[string]UserQuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("error serializing ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing ledger: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temp ledger file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing ledger %s: %w", s.path, err)
	}
	return nil
}
