package metrics

import "testing"

// BenchmarkCollector_BytesReceived measures the per-read counter cost
// paid on the event loop.
func BenchmarkCollector_BytesReceived(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(512)
		c.MessageReceived()
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.SessionConnected()
	c.BytesReceived(1024)
	c.RecordError("test")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}

// BenchmarkCollector_Parallel measures contention with the metrics
// endpoint reading while the loop records.
func BenchmarkCollector_Parallel(b *testing.B) {
	c := New()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.BytesReceived(64)
			_ = c.TotalBytesIn()
		}
	})
}
