package metrics

import (
	"sync/atomic"

	"github.com/piperlabs/piper-provision/pkg/plog"
)

// Metrics defines the interface for collecting and reporting provisioning statistics.
type Metrics interface {
	AddFilesCopied(n int64)
	AddDirsCreated(n int64)
	AddDirsReplaced(n int64)
	AddBytesCopied(n int64)
	AddRetries(n int64)
	Log()
}

// ProvisionMetrics holds the atomic counters for tracking a provisioning run.
// It is the concrete implementation of the Metrics interface.
type ProvisionMetrics struct {
	FilesCopied  atomic.Int64
	DirsCreated  atomic.Int64
	DirsReplaced atomic.Int64
	BytesCopied  atomic.Int64
	Retries      atomic.Int64
}

func (m *ProvisionMetrics) AddFilesCopied(n int64)  { m.FilesCopied.Add(n) }
func (m *ProvisionMetrics) AddDirsCreated(n int64)  { m.DirsCreated.Add(n) }
func (m *ProvisionMetrics) AddDirsReplaced(n int64) { m.DirsReplaced.Add(n) }
func (m *ProvisionMetrics) AddBytesCopied(n int64)  { m.BytesCopied.Add(n) }
func (m *ProvisionMetrics) AddRetries(n int64)      { m.Retries.Add(n) }

// Log prints a summary of the provisioning run.
func (m *ProvisionMetrics) Log() {
	plog.Info("SUM",
		"filesCopied", m.FilesCopied.Load(),
		"dirsCreated", m.DirsCreated.Load(),
		"dirsReplaced", m.DirsReplaced.Load(),
		"bytesCopied", m.BytesCopied.Load(),
		"retries", m.Retries.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesCopied(n int64)  {}
func (m *NoopMetrics) AddDirsCreated(n int64)  {}
func (m *NoopMetrics) AddDirsReplaced(n int64) {}
func (m *NoopMetrics) AddBytesCopied(n int64)  {}
func (m *NoopMetrics) AddRetries(n int64)      {}
func (m *NoopMetrics) Log()                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*ProvisionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
