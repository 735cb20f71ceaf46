package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

// handleGetListeners backs GET /apiserver/config/listeners with the
// current on-disk configuration's listener map.
func (s *Server) handleGetListeners(c *gin.Context) {
	cfg, err := s.currentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cfg.Listeners)
}

// handlePutListeners replaces the listener map in the on-disk
// configuration and rewrites the file as canonical YAML, without
// restarting the data plane (that is the job of /config/apply).
func (s *Server) handlePutListeners(c *gin.Context) {
	var listeners map[string]libfwd.Listener
	if err := c.ShouldBindJSON(&listeners); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := s.currentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cfg.Listeners = listeners
	if err = s.saveConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleGetDNS backs GET /apiserver/config/dns with the on-disk DNS
// override map.
func (s *Server) handleGetDNS(c *gin.Context) {
	cfg, err := s.currentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cfg.DNS)
}

// handlePutDNS replaces the DNS override map and rewrites the file.
func (s *Server) handlePutDNS(c *gin.Context) {
	var dns map[string]string
	if err := c.ShouldBindJSON(&dns); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := s.currentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cfg.DNS = dns
	if err = s.saveConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleStatus backs GET /apiserver/status/listeners with the map of
// last listener start outcomes.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.GetListenerStatus())
}

// handleStats backs GET /apiserver/stats/listeners. A `?format=cbor`
// query parameter selects the CBOR-encoded compact variant, which carries
// the per-listener stats only: its connection list is always empty.
func (s *Server) handleStats(c *gin.Context) {
	stats := s.mgr.GetListenerStats()

	if c.Query("format") == "cbor" {
		snap := libfwd.BuildSnapshot(stats, nil)
		body, err := snap.EncodeCBOR()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/cbor", body)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleStart backs POST /apiserver/config/start, starting the manager
// from the current on-disk configuration.
func (s *Server) handleStart(c *gin.Context) {
	cfg, err := s.currentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status, err := s.mgr.Start(cfg)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleStop backs POST /apiserver/config/stop.
func (s *Server) handleStop(c *gin.Context) {
	s.mgr.Stop()
	c.Status(http.StatusNoContent)
}

// handleApply backs POST /apiserver/config/apply: stop, reload the file
// from disk, start. The reloaded config becomes the "last applied
// snapshot" that /config/reset rewrites the file back to.
func (s *Server) handleApply(c *gin.Context) {
	cfg, err := libfwd.LoadConfig(s.configPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status, err := s.mgr.Reconfigure(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.appliedAt = cfg
	s.mu.Unlock()

	c.JSON(http.StatusOK, status)
}

// handleReset backs POST /apiserver/config/reset: rewrites the file to the
// last applied snapshot, discarding any un-applied PUT edits.
func (s *Server) handleReset(c *gin.Context) {
	s.mu.Lock()
	applied := s.appliedAt
	s.mu.Unlock()

	if applied == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no applied configuration snapshot to reset to"})
		return
	}

	if err := s.saveConfig(applied); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) currentConfig() (*libfwd.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastCfg != nil {
		return s.lastCfg, nil
	}

	cfg, err := libfwd.LoadConfig(s.configPath)
	if err != nil {
		return nil, err
	}

	s.lastCfg = cfg
	return cfg, nil
}

func (s *Server) saveConfig(cfg *libfwd.Config) error {
	if err := libfwd.SaveConfig(s.configPath, cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastCfg = cfg
	s.mu.Unlock()
	return nil
}
