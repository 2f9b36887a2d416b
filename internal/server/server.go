// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"tos-rag/internal/helper"
	"tos-rag/internal/rag"
)

const contentTypeNDJSON = "application/x-ndjson"

type Streamer interface {
	Stream(ctx context.Context, req rag.Request) <-chan rag.Event
}

type ModelLister interface {
	List(ctx context.Context) []string
}

type AnalyzeRequest struct {
	URL       string `json:"url" binding:"required"`
	Intent    string `json:"intent"`
	ModelName string `json:"model_name"`
	EnableRAG bool   `json:"enable_rag"`
}

func NewRouter(pipeline Streamer, lister ModelLister) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.POST("/analyze", HandleAnalyze(pipeline))
	r.GET("/models", HandleModels(lister))
	r.GET("/health", HandleHealth())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// HandleAnalyze streams the run as NDJSON, one flushed line per event.
func HandleAnalyze(pipeline Streamer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		events := pipeline.Stream(ctx, rag.Request{
			URL:       req.URL,
			Intent:    req.Intent,
			Model:     req.ModelName,
			EnableRAG: req.EnableRAG,
		})

		c.Header("Content-Type", contentTypeNDJSON)
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		for e := range events {
			line, ok, err := rag.Encode(e)
			if err != nil {
				log.Error().Err(err).Str("kind", string(e.Kind())).Msg("Failed to encode event")
				continue
			}
			if !ok {
				continue
			}
			if _, err := c.Writer.Write(line); err != nil {
				log.Warn().Err(err).Str("url", req.URL).Msg("Client went away, cancelling run")
				cancel()
				continue // drain until the pipeline has cleaned up
			}
			c.Writer.Flush()
		}
	}
}

func HandleModels(lister ModelLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": lister.List(c.Request.Context())})
	}
}

func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": float64(time.Now().UnixNano()) / 1e9,
		})
	}
}

// RequestLogger logs one line per request through zerolog and tags the
// response with a request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id, err := helper.GenerateUUID()
		if err == nil {
			c.Header("X-Request-ID", id)
		}

		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}
