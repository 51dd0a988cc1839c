package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/internal/logger"
	"github.com/theimaginaryfoundation/emotions-bot/supervision"
)

type RouterConfig struct {
	Classifier emotion.Classifier
	Threshold  float64
	Logger     *logger.Logger
	// Stats is optional; without it /v1/stats answers 404.
	Stats func() (supervision.Stats, error)
	// MaxTextRunes bounds POST /v1/analyze input. Zero means 4096.
	MaxTextRunes int
}

func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("httpapi: classifier is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = 4096
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	h := &analyzeHandler{
		classifier: cfg.Classifier,
		threshold:  cfg.Threshold,
		maxRunes:   cfg.MaxTextRunes,
		logger:     cfg.Logger,
	}

	router.GET("/healthz", HealthCheck)
	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", h.Analyze)
		if cfg.Stats != nil {
			v1.GET("/stats", statsHandler(cfg.Stats))
		}
	}
	return router, nil
}

func requestLogger(lg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		lg.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, lg *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		lg.Info("http stopped")
		return nil
	}
}
