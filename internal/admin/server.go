// Package admin serves the local HTTP API of a running client: health,
// session status, prometheus metrics and a few stream management controls.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/xmppctl/internal/auth"
	"github.com/danmuck/xmppctl/internal/client"
	"github.com/danmuck/xmppctl/internal/observability"
	"github.com/danmuck/xmppctl/internal/protocol/sm"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Session is the part of client.Client the API reads and drives.
type Session interface {
	Status() client.Status
	Engine() *sm.Engine
}

type Options struct {
	CorsOrigins []string
	// Token, when set, is required as a bearer token on control routes.
	Token string
}

type Server struct {
	session Session
	router  *gin.Engine
	started time.Time
	guard   auth.Validator
}

func New(session Session, opts Options) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("admin"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{session: session, router: r, started: time.Now()}
	if opts.Token != "" {
		s.guard = auth.StaticToken{Token: opts.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.session.Status()
		code := http.StatusOK
		if !st.StreamOpen {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": st.StreamOpen, "state": st.State})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.session.Status())
	})

	controls := s.router.Group("/sm")
	controls.Use(s.requireToken())

	controls.GET("/unacked", func(c *gin.Context) {
		units := s.session.Engine().Unacked()
		out := make([]gin.H, 0, len(units))
		for _, u := range units {
			out = append(out, gin.H{"kind": u.Kind.String(), "name": u.Name, "id": u.ID})
		}
		c.JSON(http.StatusOK, gin.H{"unacked": out})
	})

	controls.POST("/request-ack", func(c *gin.Context) {
		engine := s.session.Engine()
		if !engine.Active() {
			c.JSON(http.StatusConflict, gin.H{"error": "stream management is not active"})
			return
		}
		engine.RequestAck()
		c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
	})

	controls.POST("/ack", func(c *gin.Context) {
		engine := s.session.Engine()
		if !engine.Active() {
			c.JSON(http.StatusConflict, gin.H{"error": "stream management is not active"})
			return
		}
		engine.SendAck()
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "h": engine.State().Handled})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.guard, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
