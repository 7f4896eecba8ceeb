package interfaces

import (
	"context"
	"time"

	"github.com/caio-sobreiro/dcmstream/dicom"
)

// Instance is a stored SOP instance.
type Instance struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	// Path of the Part 10 file.
	Path string
	// Attributes holds the dataset without its bulk data.
	Attributes *dicom.Dataset
	SourceAE   string
	StoredAt   time.Time
}

// InstanceStore indexes stored instances.
type InstanceStore interface {
	// Put adds inst, replacing an instance with the same SOP Instance UID.
	Put(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, sopInstanceUID string) (*Instance, error)
	// Walk calls fn for every instance in insertion order until fn returns
	// an error.
	Walk(ctx context.Context, fn func(*Instance) error) error
	Len() int
}
