// Package status exposes supervisor health, metrics, and the external result
// trigger over HTTP.
package status

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/handsign/internal/auth"
	"github.com/danmuck/handsign/internal/observability"
	"github.com/danmuck/handsign/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Controller is the slice of the supervisor the router drives.
type Controller interface {
	Status() server.Status
	SendResult(label string, confidence float32) error
	Labels() []string
}

type resultRequest struct {
	Label      string   `json:"label"`
	Confidence *float32 `json:"confidence"`
}

// Options tunes the router. A nil ResultGuard leaves POST /result open.
type Options struct {
	CORSOrigins []string
	ResultGuard auth.Validator
}

type Router struct {
	service string
	ctl     Controller
	guard   auth.Validator
	engine  *gin.Engine
	started time.Time
}

func New(service string, ctl Controller, opts Options) *Router {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(service))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	rt := &Router{service: service, ctl: ctl, guard: opts.ResultGuard, engine: r, started: time.Now()}
	rt.registerRoutes()
	return rt
}

func (rt *Router) Handler() http.Handler {
	return rt.engine
}

// Serve blocks until ctx is done or the listener fails.
func (rt *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           rt.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("status: serving")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (rt *Router) registerRoutes() {
	rt.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(rt.started).String(),
			"service": rt.service,
			"version": version,
		})
	})

	rt.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rt.engine.GET("/ready", func(c *gin.Context) {
		st := rt.ctl.Status()
		code := http.StatusOK
		ready := st.Phase == server.PhaseListening
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"phase":   st.Phase,
			"service": rt.service,
		})
	})

	rt.engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, rt.ctl.Status())
	})

	rt.engine.GET("/labels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"labels": rt.ctl.Labels()})
	})

	rt.engine.POST("/result", rt.requireToken(), func(c *gin.Context) {
		var req resultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Label = strings.TrimSpace(req.Label)
		if req.Label == "" || req.Confidence == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "label and confidence are required"})
			return
		}

		if err := rt.ctl.SendResult(req.Label, *req.Confidence); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, server.ErrNoActiveSession) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "label": req.Label})
	})
}

func (rt *Router) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rt.guard == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(rt.guard, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
