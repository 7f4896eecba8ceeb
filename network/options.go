package network

import (
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dcmstream/association"
	"github.com/caio-sobreiro/dcmstream/metrics"
	"github.com/caio-sobreiro/dcmstream/types"
)

// Default timeouts
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultSocketTimeout  = 30 * time.Second
	DefaultDimseTimeout   = 180 * time.Second
	DefaultPollInterval   = time.Second
)

// Options configures a Conn. Zero values select the defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// ConnectTimeout bounds Dial.
	ConnectTimeout time.Duration
	// SocketTimeout bounds the read of one PDU once its first byte arrived,
	// and every write.
	SocketTimeout time.Duration
	// DimseTimeout aborts the association when nothing is received for this
	// long while no send is in progress. Negative disables it.
	DimseTimeout time.Duration
	// PollInterval is how often the receive loop wakes up to check the
	// DIMSE timeout and the stop flag.
	PollInterval time.Duration

	// MaxPDULength is the largest PDU accepted from the peer; it is
	// advertised in associate requests and accepts.
	MaxPDULength uint32

	// StreamParse parses datasets while their fragments arrive instead of
	// buffering them whole.
	StreamParse bool

	// Policy negotiates incoming association requests when no
	// OnAssociateRequest handler is set. Nil uses the default policy.
	Policy *association.Policy
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SocketTimeout == 0 {
		o.SocketTimeout = DefaultSocketTimeout
	}
	if o.DimseTimeout == 0 {
		o.DimseTimeout = DefaultDimseTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPDULength == 0 {
		o.MaxPDULength = types.DefaultMaxPDULength
	}
	if o.Policy == nil {
		o.Policy = association.DefaultPolicy()
	}
	return o
}
