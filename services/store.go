package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/dimse"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/interfaces"
	"github.com/caio-sobreiro/dcmstream/network"
	"github.com/caio-sobreiro/dcmstream/types"
)

// StoreService handles C-STORE requests by writing each instance as a
// Part 10 file into a storage directory and indexing its attributes.
//
// Datasets are spilled to a file while they arrive when a spill directory
// is set, so memory use does not grow with the instance size.
type StoreService struct {
	dir      string
	spillDir string
	index    interfaces.InstanceStore
	logger   *slog.Logger
}

// NewStoreService creates the storage and spill directories. An empty
// spillDir keeps inbound datasets in memory.
func NewStoreService(dir, spillDir string, index interfaces.InstanceStore, logger *slog.Logger) (*StoreService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range []string{dir, spillDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", d, err)
		}
	}
	return &StoreService{dir: dir, spillDir: spillDir, index: index, logger: logger}, nil
}

// Index is the index instances are added to.
func (s *StoreService) Index() interfaces.InstanceStore { return s.index }

// SpillPath implements interfaces.SpillingHandler.
func (s *StoreService) SpillPath(contextID byte, cmd *dimse.Command) string {
	if s.spillDir == "" {
		return ""
	}
	return filepath.Join(s.spillDir, uuid.NewString()+".part")
}

// HandleDIMSE stores the instance of a C-STORE request.
func (s *StoreService) HandleDIMSE(ctx context.Context, req *network.Request) (*dimse.Command, *dicom.Dataset, error) {
	if req.SOPInstanceUID == "" {
		return nil, nil, dcmerrors.NewDIMSEError("C-STORE", types.StatusUnableToProcess, "missing affected SOP instance UID")
	}
	target := s.pathFor(req.SOPInstanceUID)

	var (
		inst *interfaces.Instance
		err  error
	)
	if req.DatasetFile != "" {
		inst, err = s.adopt(req.DatasetFile, target)
	} else {
		inst, err = s.write(req, target)
	}
	if err != nil {
		return nil, nil, err
	}

	if inst.SOPInstanceUID != req.SOPInstanceUID {
		err := dcmerrors.NewDIMSEError("C-STORE", types.StatusUnableToProcess,
			fmt.Sprintf("dataset SOP instance %s does not match the command", inst.SOPInstanceUID))
		return nil, nil, s.discard(target, err)
	}
	inst.SOPClassUID = req.SOPClassUID
	inst.SourceAE = req.RemoteAE
	inst.StoredAt = time.Now()

	if _, err := s.index.Get(ctx, inst.SOPInstanceUID); err == nil {
		s.logger.InfoContext(ctx, "Replacing stored instance", "sop_instance_uid", inst.SOPInstanceUID)
	}
	if err := s.index.Put(ctx, inst); err != nil {
		return nil, nil, s.discard(target, err)
	}

	s.logger.InfoContext(ctx, "Stored instance",
		"sop_class", types.GetSOPClassInfo(inst.SOPClassUID).Name,
		"sop_instance_uid", inst.SOPInstanceUID,
		"calling_ae", req.RemoteAE,
		"path", target)
	return NewCStoreResponse(req, types.StatusSuccess), nil, nil
}

// Reindex adds every instance already in the storage directory to the
// index and removes partial files left in the spill directory. It returns
// the number of instances indexed.
func (s *StoreService) Reindex(ctx context.Context) (int, error) {
	if s.spillDir != "" {
		stale, _ := filepath.Glob(filepath.Join(s.spillDir, "*.part"))
		for _, path := range stale {
			if err := os.Remove(path); err != nil {
				s.logger.WarnContext(ctx, "Failed to remove partial file", "path", path, "error", err)
			}
		}
	}

	count := 0
	err := filepath.WalkDir(s.dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != s.dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".dcm" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		file, err := dicom.ReadFile(path, dicom.DefaultReadOptions)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable instance", "path", path, "error", err)
			return nil
		}
		inst := newInstance(file.Meta, file.Dataset, path)
		inst.SourceAE = file.Meta.GetString(types.SourceApplicationEntityTitleTag)
		if info, err := entry.Info(); err == nil {
			inst.StoredAt = info.ModTime()
		}
		if err := s.index.Put(ctx, inst); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to reindex %s: %w", s.dir, err)
	}
	return count, nil
}

// pathFor keeps the file name to characters valid in a UID.
func (s *StoreService) pathFor(sopInstanceUID string) string {
	name := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return '_'
	}, sopInstanceUID)
	return filepath.Join(s.dir, name+".dcm")
}

// adopt moves a spilled Part 10 file into place.
func (s *StoreService) adopt(spilled, target string) (*interfaces.Instance, error) {
	if err := os.Rename(spilled, target); err != nil {
		return nil, fmt.Errorf("failed to move %s into storage: %w", spilled, err)
	}
	file, err := dicom.ReadFile(target, dicom.DefaultReadOptions)
	if err != nil {
		return nil, s.discard(target, fmt.Errorf("failed to read stored instance: %w", err))
	}
	return newInstance(file.Meta, file.Dataset, target), nil
}

// write encodes an in-memory dataset into a Part 10 file.
func (s *StoreService) write(req *network.Request, target string) (*interfaces.Instance, error) {
	if req.Dataset == nil {
		return nil, dcmerrors.NewDIMSEError("C-STORE", types.StatusUnableToProcess, "request has no dataset")
	}
	meta := dicom.NewFileMetaInfo(req.SOPClassUID, req.SOPInstanceUID, req.Dataset.TransferSyntax(), req.RemoteAE)
	if err := dicom.WriteFile(target, meta, req.Dataset, dicom.DefaultWriteOptions); err != nil {
		return nil, s.discard(target, fmt.Errorf("failed to write stored instance: %w", err))
	}
	return newInstance(meta, req.Dataset, target), nil
}

// discard removes a partially stored file and returns cause together with
// any failure to remove it.
func (s *StoreService) discard(path string, cause error) error {
	result := multierror.Append(nil, cause)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func newInstance(meta, ds *dicom.Dataset, path string) *interfaces.Instance {
	attrs := ds.Clone()
	attrs.Remove(types.PixelDataTag)
	return &interfaces.Instance{
		SOPClassUID:       ds.GetUID(types.SOPClassUIDTag),
		SOPInstanceUID:    ds.GetUID(types.SOPInstanceUIDTag),
		TransferSyntaxUID: meta.GetUID(types.TransferSyntaxUIDTag),
		Path:              path,
		Attributes:        attrs,
	}
}
