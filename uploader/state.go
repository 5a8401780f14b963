package uploader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrStateNotFound signals that a fingerprint has no saved resume state.
var ErrStateNotFound = errors.New("no resume state for fingerprint")

// ResumeState is the durable record of an in-flight upload, keyed by the
// file fingerprint. Parts maps part number to the provider etag for every
// accepted block.
type ResumeState struct {
	Fingerprint string           `json:"fingerprint"`
	VideoID     string           `json:"videoId"`
	UploadID    string           `json:"uploadId,omitempty"`
	Key         string           `json:"key,omitempty"`
	PartSize    int64            `json:"partSize"`
	Parts       map[int32]string `json:"parts"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type StateStore interface {
	Load(fingerprint string) (*ResumeState, error)
	Save(state *ResumeState) error
	Clear(fingerprint string) error
}

// FileStateStoreImpl persists one JSON file per fingerprint under a state
// directory, so interrupted uploads survive process restarts.
type FileStateStoreImpl struct {
	dir string
}

func NewFileStateStoreImpl(dir string) (*FileStateStoreImpl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStateStoreImpl{dir: dir}, nil
}

func (s *FileStateStoreImpl) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

func (s *FileStateStoreImpl) Load(fingerprint string) (*ResumeState, error) {
	raw, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	var state ResumeState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state is treated as absent; the upload restarts clean.
		return nil, ErrStateNotFound
	}
	if state.Parts == nil {
		state.Parts = map[int32]string{}
	}
	return &state, nil
}

func (s *FileStateStoreImpl) Save(state *ResumeState) error {
	state.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(state.Fingerprint) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(state.Fingerprint))
}

func (s *FileStateStoreImpl) Clear(fingerprint string) error {
	err := os.Remove(s.path(fingerprint))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
