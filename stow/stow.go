// Package stow implements both sides of STOW-RS: the batching client that
// pushes stored instances to a remote server and the receiver that stores
// inbound instances and accounts for their outcome.
package stow

import (
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dicomweb "gitlab.com/medical-research/dicomweb"
)

// DICOM attribute tags of STOW-RS responses, as written in DICOM+JSON.
const (
	TagRetrieveURL              = "00081190"
	TagReferencedSOPClassUID    = "00081150"
	TagReferencedSOPInstanceUID = "00081155"
	TagWarningReason            = "00081196"
	TagFailureReason            = "00081197"
	TagFailedSOPSequence        = "00081198"
	TagReferencedSOPSequence    = "00081199"
	TagOtherFailuresSequence    = "0008119A"
)

// STOW-RS metrics.
var (
	flushCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomweb_stow_flush_count",
		Help: "Total number of STOW-RS requests sent to remote servers",
	})

	instancesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomweb_stow_instances_sent",
		Help: "Total number of instances accepted by remote STOW-RS servers",
	})

	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomweb_stow_bytes_sent",
		Help: "Total size of the STOW-RS bodies sent to remote servers",
	})

	receivedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_stow_received_count",
		Help: "Total number of inbound STOW-RS parts by outcome",
	}, []string{"outcome"})
)

// Config bounds the size of outbound STOW-RS requests. A zero limit
// disables the corresponding flush trigger.
type Config struct {
	MaxInstances int
	MaxBytes     int64
}

// DefaultConfig flushes every 10 instances or 10 MiB.
var DefaultConfig = Config{
	MaxInstances: 10,
	MaxBytes:     10 * humanize.MiByte,
}

// ParseMaxSize parses a human readable size such as "10MB" or "16MiB".
// "0" disables the size trigger.
func ParseMaxSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, dicomweb.Errorf(dicomweb.EINVALID, "invalid STOW-RS max size %q: %v", s, err)
	}
	return int64(n), nil
}
