// Package wado implements WADO-RS retrieval: the client that pulls
// resources from a remote server into the local store, the GET passthrough
// used to browse remotes, and the exporter serving local instances.
package wado

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WADO-RS metrics.
var (
	retrievedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomweb_wado_retrieved_instances",
		Help: "Total number of instances retrieved from remote WADO-RS servers",
	})

	exportedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomweb_wado_exported_instances",
		Help: "Total number of local instances served over WADO",
	})
)

// AcceptMultipartDICOM is the Accept header sent with WADO-RS retrieves.
const AcceptMultipartDICOM = `multipart/related; type="application/dicom"`
