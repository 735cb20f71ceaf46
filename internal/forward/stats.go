package forward

import "sync/atomic"

// ListenerStats holds the atomic counters for a single running listener.
// Created when a Runner starts, removed from the registry on manager stop.
type ListenerStats struct {
	name          string
	idleTimeoutMs uint64

	total           atomic.Int64
	active          atomic.Int64
	uploadedBytes   atomic.Int64
	downloadedBytes atomic.Int64
}

func NewListenerStats(name string, idleTimeoutMs uint64) *ListenerStats {
	return &ListenerStats{name: name, idleTimeoutMs: idleTimeoutMs}
}

func (s *ListenerStats) Name() string { return s.name }

func (s *ListenerStats) ConnOpened() {
	s.total.Add(1)
	s.active.Add(1)
}

func (s *ListenerStats) ConnClosed() {
	s.active.Add(-1)
}

func (s *ListenerStats) AddUploaded(n int64) {
	if n > 0 {
		s.uploadedBytes.Add(n)
	}
}

func (s *ListenerStats) AddDownloaded(n int64) {
	if n > 0 {
		s.downloadedBytes.Add(n)
	}
}

// ListenerStatsView is the JSON-serializable snapshot of a ListenerStats,
// kept as its own type so the live atomic struct never crosses a
// serialization boundary.
type ListenerStatsView struct {
	Name            string `json:"name"`
	IdleTimeoutMs   uint64 `json:"idle_timeout_ms"`
	Total           int64  `json:"total"`
	Active          int64  `json:"active"`
	UploadedBytes   int64  `json:"uploaded_bytes"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
}

func (s *ListenerStats) Snapshot() ListenerStatsView {
	return ListenerStatsView{
		Name:            s.name,
		IdleTimeoutMs:   s.idleTimeoutMs,
		Total:           s.total.Load(),
		Active:          s.active.Load(),
		UploadedBytes:   s.uploadedBytes.Load(),
		DownloadedBytes: s.downloadedBytes.Load(),
	}
}
