package metrics

import (
	"sync"
	"testing"
)

func TestProvisionMetricsConcurrentAdds(t *testing.T) {
	m := &ProvisionMetrics{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AddFilesCopied(1)
				m.AddBytesCopied(10)
				m.AddRetries(1)
			}
		}()
	}
	wg.Wait()

	if got := m.FilesCopied.Load(); got != 800 {
		t.Errorf("FilesCopied = %d, want 800", got)
	}
	if got := m.BytesCopied.Load(); got != 8000 {
		t.Errorf("BytesCopied = %d, want 8000", got)
	}
	if got := m.Retries.Load(); got != 800 {
		t.Errorf("Retries = %d, want 800", got)
	}
}

func TestNoopMetricsDoesNothing(t *testing.T) {
	var m Metrics = &NoopMetrics{}
	m.AddFilesCopied(5)
	m.AddDirsCreated(5)
	m.AddDirsReplaced(5)
	m.AddBytesCopied(5)
	m.Log()
}
