package profilo

import "github.com/cockroachdb/errors"

var (
	errInvalidWorkerCount = errors.New("profilo: workers must be > 0")
	errInvalidQueueSize   = errors.New("profilo: queueSize must be > 0")
)
