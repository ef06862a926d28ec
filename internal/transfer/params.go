package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ParamsStore moves circuit parameter files between participants. Files are
// keyed by ceremony and queue index: a participant fetches its predecessor's
// output by priorIndex and uploads its own under its queueIndex.
type ParamsStore interface {
	FetchParams(ctx context.Context, ceremonyID string, index int) ([]byte, error)
	UploadParams(ctx context.Context, ceremonyID string, index int, params []byte) (string, error)
}

// FileStore is a filesystem-backed ParamsStore.
type FileStore struct {
	basePath string
}

func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create params base path")
	}
	return &FileStore{basePath: basePath}, nil
}

func (s *FileStore) fileRef(ceremonyID string, index int) string {
	return filepath.Join(ceremonyID, fmt.Sprintf("ph2_%04d.params", index))
}

func (s *FileStore) FetchParams(ctx context.Context, ceremonyID string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "fetch cancelled")
	}

	ref := s.fileRef(ceremonyID, index)
	data, err := os.ReadFile(filepath.Join(s.basePath, ref))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch params %s", ref)
	}

	log.Debug().Str("ceremony_id", ceremonyID).Int("index", index).Int("size", len(data)).Msg("Params fetched")
	return data, nil
}

// UploadParams persists the parameter file and returns its reference.
func (s *FileStore) UploadParams(ctx context.Context, ceremonyID string, index int, params []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "upload cancelled")
	}

	ref := s.fileRef(ceremonyID, index)
	path := filepath.Join(s.basePath, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", errors.Wrap(err, "failed to create ceremony params dir")
	}
	if err := os.WriteFile(path, params, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to upload params %s", ref)
	}

	log.Debug().Str("ceremony_id", ceremonyID).Int("index", index).Int("size", len(params)).Msg("Params uploaded")
	return ref, nil
}
