package admin

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	liblog "github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"

	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

// Server is the admin control plane: Basic-auth-protected, optionally
// TLS/mTLS, exposing the configuration, status, stats and lifecycle
// routes that drive the forwarding Manager.
type Server struct {
	mgr        *libfwd.Manager
	configPath string
	log        liblog.FuncLog

	mu        sync.Mutex
	lastCfg   *libfwd.Config
	appliedAt *libfwd.Config

	srv *http.Server
}

// NewServer constructs the admin HTTP server for the given manager and
// on-disk configuration file path.
func NewServer(mgr *libfwd.Manager, configPath string, log liblog.FuncLog) *Server {
	return &Server{
		mgr:        mgr,
		configPath: configPath,
		log:        log,
	}
}

func (s *Server) logEntry(lvl loglvl.Level, msg string) {
	if s.log == nil {
		return
	}
	s.log().Entry(lvl, msg).FieldAdd("component", "admin").Log()
}

// router builds the gin.Engine with every admin route.
func (s *Server) router(cfg *libfwd.AdminServerConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	var creds *libfwd.BasicAuth
	if cfg != nil {
		creds = cfg.Auth
	}
	r.Use(basicAuth(creds))

	api := r.Group("/apiserver")
	{
		api.GET("/config/listeners", s.handleGetListeners)
		api.PUT("/config/listeners", s.handlePutListeners)
		api.GET("/config/dns", s.handleGetDNS)
		api.PUT("/config/dns", s.handlePutDNS)
		api.GET("/status/listeners", s.handleStatus)
		api.GET("/stats/listeners", s.handleStats)
		api.POST("/config/start", s.handleStart)
		api.POST("/config/stop", s.handleStop)
		api.POST("/config/apply", s.handleApply)
		api.POST("/config/reset", s.handleReset)
	}

	assets := "."
	if cfg != nil && cfg.Assets != "" {
		assets = cfg.Assets
	}
	r.NoRoute(func(c *gin.Context) {
		// gin's c.File delegates to http.ServeFile, which supports Range
		// requests natively.
		c.File(assets + c.Request.URL.Path)
	})

	return r
}

// Run starts the admin HTTP(S) server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, cfg *libfwd.AdminServerConfig) error {
	r := s.router(cfg)

	var tlsConfig *tls.Config
	if cfg.TLS != nil {
		var err error
		tlsConfig, err = buildTLSConfig(cfg.TLS)
		if err != nil {
			return err
		}
	}

	s.srv = &http.Server{
		Addr:      cfg.Bind,
		Handler:   r,
		TLSConfig: tlsConfig,
	}

	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logEntry(loglvl.InfoLevel, "admin server listening on "+cfg.Bind)

	if tlsConfig != nil {
		err = s.srv.ServeTLS(ln, "", "")
	} else {
		err = s.srv.Serve(ln)
	}

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
