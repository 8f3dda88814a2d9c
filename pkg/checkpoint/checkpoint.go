package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"
	"blocktally/pkg/tally"
)

// CurrentVersion is the schema version written by Save
const CurrentVersion = 1

// Checkpoint is the persisted progress of a counting run. An id appears in
// Processed exactly when its counts are already folded into Aggregate.
type Checkpoint struct {
	Version   int             `json:"version"`
	Processed []string        `json:"processed_files"`
	Aggregate tally.Aggregate `json:"block_count"`
	UpdatedAt time.Time       `json:"updated_at"`

	processedSet map[string]struct{}
}

// Empty returns a checkpoint with nothing processed
func Empty() *Checkpoint {
	return &Checkpoint{
		Version:   CurrentVersion,
		Processed: []string{},
		Aggregate: tally.New(),
	}
}

// IsProcessed reports whether id has already been folded into the aggregate
func (c *Checkpoint) IsProcessed(id string) bool {
	if c.processedSet == nil {
		c.processedSet = make(map[string]struct{}, len(c.Processed))
		for _, p := range c.Processed {
			c.processedSet[p] = struct{}{}
		}
	}
	_, ok := c.processedSet[id]
	return ok
}

// Next returns the checkpoint that results from completing id with counts.
// The receiver is left untouched so it stays valid if persisting Next fails.
func (c *Checkpoint) Next(id string, counts tally.Aggregate) *Checkpoint {
	processed := make([]string, len(c.Processed), len(c.Processed)+1)
	copy(processed, c.Processed)

	return &Checkpoint{
		Version:   CurrentVersion,
		Processed: append(processed, id),
		Aggregate: tally.Merge(c.Aggregate, counts),
	}
}

func (c *Checkpoint) validate() error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("version %d is newer than supported version %d", c.Version, CurrentVersion)
	}

	seen := make(map[string]struct{}, len(c.Processed))
	for _, p := range c.Processed {
		if p == "" {
			return fmt.Errorf("empty processed file entry")
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("duplicate processed file %q", p)
		}
		seen[p] = struct{}{}
	}

	if len(c.Processed) == 0 && c.Aggregate.Total() > 0 {
		return fmt.Errorf("block counts present without any processed file")
	}

	return nil
}

// Store persists a Checkpoint as a single JSON file
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a store backed by path
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{path: path, logger: log}
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted checkpoint. A missing file yields an empty checkpoint;
// anything unreadable as a valid checkpoint wraps errors.ErrCorruptState.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, errs.New(errs.ErrorTypeIO, "load checkpoint", s.path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrCorruptState, s.path, err)
	}
	if cp.Processed == nil {
		cp.Processed = []string{}
	}
	if cp.Aggregate == nil {
		cp.Aggregate = tally.New()
	}
	if err := cp.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrCorruptState, s.path, err)
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path":      s.path,
		"processed": len(cp.Processed),
		"distinct":  len(cp.Aggregate),
		"updated":   cp.UpdatedAt,
	})

	return &cp, nil
}

// Save writes cp atomically: temp file, fsync, rename. On failure the previous
// file is left as it was.
func (s *Store) Save(cp *Checkpoint) error {
	cp.Version = CurrentVersion
	cp.UpdatedAt = time.Now().UTC()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Storage("create checkpoint directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errs.Storage("create temporary checkpoint", s.path, err)
	}
	tempPath := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return errs.Storage("encode checkpoint", s.path, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return errs.Storage("sync checkpoint", s.path, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Storage("close checkpoint", s.path, err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Storage("replace checkpoint", s.path, err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"path":      s.path,
		"processed": len(cp.Processed),
		"distinct":  len(cp.Aggregate),
	})

	return nil
}

// Clear removes the checkpoint file; a missing file is not an error
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Storage("clear checkpoint", s.path, err)
	}
	s.logger.Debug("Checkpoint cleared")
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Quarantine moves an unusable checkpoint to <path>.corrupt and returns the new
// location, so starting over does not destroy the evidence
func (s *Store) Quarantine() (string, error) {
	target := s.path + ".corrupt"
	if err := os.Rename(s.path, target); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errs.Storage("quarantine checkpoint", s.path, err)
	}

	s.logger.WarnWithFields("Corrupt checkpoint moved aside", map[string]interface{}{
		"path":  s.path,
		"moved": target,
	})
	return target, nil
}
