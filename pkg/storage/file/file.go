package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
)

const (
	roundsDir = "rounds"
	modelsDir = "models"

	roundPattern = "round_%020d.json"
	modelPattern = "model_%020d.snap"
)

// Storage lays history out as one directory per run:
//
//	<root>/<run>/rounds/round_<n>.json
//	<root>/<run>/models/model_<n>.snap
//
// Snapshots use the parameter codec; the file's mtime is the update time.
type Storage struct {
	root string
	mu   sync.RWMutex
}

func New(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Storage{root: root}, nil
}

func (s *Storage) Create(_ context.Context, m fl.RoundMetrics) error {
	dir, err := s.runDir(m.RunID, roundsDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeExclusive(filepath.Join(dir, fmt.Sprintf(roundPattern, m.Round)), data)
}

func (s *Storage) Get(_ context.Context, runID string, round uint64) (fl.RoundMetrics, error) {
	dir, err := s.runDir(runID, roundsDir)
	if err != nil {
		return fl.RoundMetrics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return readRound(filepath.Join(dir, fmt.Sprintf(roundPattern, round)))
}

func (s *Storage) List(_ context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error) {
	dir, err := s.runDir(runID, roundsDir)
	if err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := listFiles(dir, "round_", ".json")
	if err != nil {
		return nil, 0, err
	}

	total := uint64(len(names))
	rounds := []fl.RoundMetrics{}
	for i := offset; i < total && uint64(len(rounds)) < limit; i++ {
		m, err := readRound(filepath.Join(dir, names[i]))
		if err != nil {
			return nil, 0, err
		}
		rounds = append(rounds, m)
	}

	return rounds, total, nil
}

func (s *Storage) SaveModel(_ context.Context, runID string, state fl.GlobalModelState) error {
	dir, err := s.runDir(runID, modelsDir)
	if err != nil {
		return err
	}

	data, err := fl.EncodeParameters(state.Parameters)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(dir, fmt.Sprintf(modelPattern, state.Round))
	if err := writeExclusive(path, data); err != nil {
		return err
	}
	if !state.UpdatedAt.IsZero() {
		if err := os.Chtimes(path, state.UpdatedAt, state.UpdatedAt); err != nil {
			return fmt.Errorf("failed to stamp model file: %w", err)
		}
	}

	return nil
}

func (s *Storage) LoadModel(_ context.Context, runID string, round uint64) (fl.GlobalModelState, error) {
	dir, err := s.runDir(runID, modelsDir)
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return readModel(filepath.Join(dir, fmt.Sprintf(modelPattern, round)), round)
}

func (s *Storage) LatestModel(_ context.Context, runID string) (fl.GlobalModelState, error) {
	dir, err := s.runDir(runID, modelsDir)
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := listFiles(dir, "model_", ".snap")
	if err != nil {
		return fl.GlobalModelState{}, err
	}
	if len(names) == 0 {
		return fl.GlobalModelState{}, pkgerrors.ErrNotFound
	}

	last := names[len(names)-1]
	round, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(last, "model_"), ".snap"), 10, 64)
	if err != nil {
		return fl.GlobalModelState{}, fmt.Errorf("unexpected model file %q: %w", last, err)
	}

	return readModel(filepath.Join(dir, last), round)
}

func (s *Storage) runDir(runID, kind string) (string, error) {
	sanitized := sanitizeID(runID)
	if sanitized == "" || sanitized != runID {
		return "", fmt.Errorf("%w: run %q", pkgerrors.ErrInvalidID, runID)
	}

	dir := filepath.Join(s.root, sanitized, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	return dir, nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return pkgerrors.ErrEntityExists
		}

		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return f.Close()
}

func readRound(path string) (fl.RoundMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fl.RoundMetrics{}, pkgerrors.ErrNotFound
		}

		return fl.RoundMetrics{}, fmt.Errorf("failed to read round file: %w", err)
	}

	var m fl.RoundMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return fl.RoundMetrics{}, fmt.Errorf("failed to unmarshal round: %w", err)
	}

	return m, nil
}

func readModel(path string, round uint64) (fl.GlobalModelState, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fl.GlobalModelState{}, pkgerrors.ErrNotFound
		}

		return fl.GlobalModelState{}, fmt.Errorf("failed to stat model file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fl.GlobalModelState{}, fmt.Errorf("failed to read model file: %w", err)
	}

	params, err := fl.DecodeParameters(data)
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return fl.GlobalModelState{
		Round:      round,
		Parameters: params,
		UpdatedAt:  info.ModTime().UTC(),
	}, nil
}

// listFiles returns matching names sorted; zero padding makes that round order.
func listFiles(dir, prefix, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	return names, nil
}

// sanitizeID keeps only characters that are safe in a single path element.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
