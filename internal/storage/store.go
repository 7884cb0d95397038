package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/san-kum/pastis/internal/config"
	"gonum.org/v1/gonum/mat"
)

const (
	metadataFile = "metadata.json"
	matrixFile   = "pastis_matrix.csv"
	matrixPlot   = "pastis_matrix.png"
	fieldsDir    = "efields"
	imagesDir    = "OTE_images"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	baseDir string
	logger  *slog.Logger
}

func New(baseDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{baseDir: baseDir, logger: logger}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID             string             `json:"id"`
	Instrument     string             `json:"instrument"`
	Design         string             `json:"design"`
	Timestamp      time.Time          `json:"timestamp"`
	Status         string             `json:"status"`
	MirrorKind     string             `json:"mirror_kind"`
	WFEAber        float64            `json:"wfe_aber"`
	NumModes       int                `json:"num_modes,omitempty"`
	Norm           float64            `json:"norm,omitempty"`
	ContrastFloor  float64            `json:"contrast_floor,omitempty"`
	RuntimeSeconds float64            `json:"runtime_seconds,omitempty"`
	StageSeconds   map[string]float64 `json:"stage_seconds,omitempty"`
	FailedStage    string             `json:"failed_stage,omitempty"`
	FailedMode     *int               `json:"failed_mode,omitempty"`
	Error          string             `json:"error,omitempty"`
	Config         *config.Config     `json:"config,omitempty"`
}

// CreateRun allocates a run directory named
// <instrument>_<design>_<timestamp>. The directory tree is created by
// Run.Prepare.
func (s *Store) CreateRun(cfg *config.Config) (*Run, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	now := time.Now()
	base := fmt.Sprintf("%s_%s_%s", cfg.Instrument, cfg.Design, now.Format("2006-01-02T15-04-05"))

	id := base
	for i := 2; ; i++ {
		err := os.Mkdir(filepath.Join(s.baseDir, id), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}

	meta := RunMetadata{
		ID:         id,
		Instrument: cfg.Instrument,
		Design:     cfg.Design,
		Timestamp:  now,
		Status:     StatusRunning,
		MirrorKind: cfg.Mirror.Kind,
		WFEAber:    cfg.Calibration.WFEAber,
		Config:     cfg,
	}
	return &Run{meta: meta, dir: filepath.Join(s.baseDir, id), logger: s.logger.With("run", id)}, nil
}

// Open returns an existing run, e.g. to resume it.
func (s *Store) Open(runID string) (*Run, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	return &Run{meta: *meta, dir: filepath.Join(s.baseDir, runID), logger: s.logger.With("run", runID)}, nil
}

// List returns all runs with readable metadata, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, metadataFile, err)
	}
	return &meta, nil
}

func (s *Store) LoadMatrix(runID string) (*mat.SymDense, error) {
	path := filepath.Join(s.baseDir, runID, matrixFile)
	m, err := readFile(path, ReadMatrix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no matrix", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) MatrixPath(runID string) string {
	return filepath.Join(s.baseDir, runID, matrixFile)
}
