package dimse

import (
	"time"

	"github.com/caio-sobreiro/dcmstream/dicom"
)

// Progress tracks the bytes of one DIMSE message in flight.
type Progress struct {
	Started                time.Time
	BytesTransferred       int64
	EstimatedCommandLength int64
	EstimatedDatasetLength int64
}

// NewProgress starts tracking a message.
func NewProgress() *Progress {
	return &Progress{Started: time.Now()}
}

// EstimatedBytesTotal is the expected size of command and dataset.
func (p *Progress) EstimatedBytesTotal() int64 {
	return p.EstimatedCommandLength + p.EstimatedDatasetLength
}

// TimeElapsed is the time since the first byte.
func (p *Progress) TimeElapsed() time.Duration {
	return time.Since(p.Started)
}

// Fraction is the transferred share of the estimate, capped at 1.
func (p *Progress) Fraction() float64 {
	total := p.EstimatedBytesTotal()
	if total <= 0 {
		return 0
	}
	f := float64(p.BytesTransferred) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

// Message is a complete DIMSE message.
type Message struct {
	ContextID byte
	Command   *Command
	Dataset   *dicom.Dataset
	// DatasetFile is set instead of Dataset when the dataset was written to
	// a Part 10 file while it arrived.
	DatasetFile string
	Progress    *Progress
}
