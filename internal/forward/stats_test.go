package forward

import "testing"

func TestListenerStatsConnLifecycle(t *testing.T) {
	s := NewListenerStats("l1", 5000)

	s.ConnOpened()
	s.ConnOpened()
	s.ConnClosed()

	snap := s.Snapshot()
	if snap.Total != 2 {
		t.Fatalf("total = %d, want 2", snap.Total)
	}
	if snap.Active != 1 {
		t.Fatalf("active = %d, want 1", snap.Active)
	}
	if snap.Name != "l1" || snap.IdleTimeoutMs != 5000 {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
}

func TestListenerStatsByteCounters(t *testing.T) {
	s := NewListenerStats("l1", 0)

	s.AddUploaded(3)
	s.AddUploaded(7)
	s.AddDownloaded(5)

	snap := s.Snapshot()
	if snap.UploadedBytes != 10 {
		t.Fatalf("uploaded = %d, want 10", snap.UploadedBytes)
	}
	if snap.DownloadedBytes != 5 {
		t.Fatalf("downloaded = %d, want 5", snap.DownloadedBytes)
	}
}

func TestListenerStatsIgnoresNonPositiveDeltas(t *testing.T) {
	s := NewListenerStats("l1", 0)

	s.AddUploaded(0)
	s.AddUploaded(-5)

	if s.Snapshot().UploadedBytes != 0 {
		t.Fatalf("non-positive deltas must not move the counter")
	}
}

func TestListenerStatsTotalNeverLessThanActive(t *testing.T) {
	s := NewListenerStats("l1", 0)

	for i := 0; i < 5; i++ {
		s.ConnOpened()
	}
	for i := 0; i < 3; i++ {
		s.ConnClosed()
	}

	snap := s.Snapshot()
	if snap.Total < snap.Active {
		t.Fatalf("invariant violated: total=%d active=%d", snap.Total, snap.Active)
	}
}
