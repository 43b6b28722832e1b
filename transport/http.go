/*
Copyright 2025 Meridian Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kapetan-io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"
)

const (
	RPCAppsCreate = "/v1/apps.create"
	RPCAppsList   = "/v1/apps.list"

	RPCDupsAdd    = "/v1/dups.add"
	RPCDupsModify = "/v1/dups.modify"
	RPCDupsQuery  = "/v1/dups.query"
	RPCDupsSync   = "/v1/dups.sync"
)

const requestIDKey = "request.id"

// HTTPHandler is the public HTTP surface of the tracker. All RPC endpoints
// are POST with JSON bodies; errors are returned as a Reply body with the
// matching HTTP status code.
//
// Abstraction rules dictate that the `transport` package should NOT access
// any other packages of this module. To expose a new capability via HTTP it
// must first be added to the `Service` interface. The Go circular dependency
// rules work with us here to keep the HTTP code separated from the
// implementation.
type HTTPHandler struct {
	duration *prometheus.SummaryVec
	router   *gin.Engine
	metrics  http.Handler
	service  Service
	version  string
	log      *slog.Logger
}

func NewHTTPHandler(s Service, metrics http.Handler, version string, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &HTTPHandler{
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_handler_duration",
			Help: "The timings of http requests handled by the service",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.99: 0.001,
			},
		}, []string{"path"}),
		metrics: metrics,
		service: s,
		version: version,
		log:     log.With("code.namespace", "HTTPHandler"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), h.observe())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"POST", "GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))

	router.POST(RPCAppsCreate, h.AppsCreate)
	router.POST(RPCAppsList, h.AppsList)
	router.POST(RPCDupsAdd, h.DupsAdd)
	router.POST(RPCDupsModify, h.DupsModify)
	router.POST(RPCDupsQuery, h.DupsQuery)
	router.POST(RPCDupsSync, h.DupsSync)
	router.GET("/health", h.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	router.NoRoute(func(c *gin.Context) {
		h.replyError(c, NewNotFound("no such method; %s", c.Request.URL.Path))
	})

	h.router = router
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// observe assigns each request an id, times it and emits the access log line
func (h *HTTPHandler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(h.duration.WithLabelValues(c.Request.URL.Path))
		id := ksuid.New().String()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)

		c.Next()

		timer.ObserveDuration()
		h.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request.id", id)
	}
}

func (h *HTTPHandler) AppsCreate(c *gin.Context) {
	var req AppInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	if err := h.service.AppsCreate(c.Request.Context(), &req); err != nil {
		h.replyError(c, err)
		return
	}
	h.replyOK(c)
}

func (h *HTTPHandler) AppsList(c *gin.Context) {
	var req AppsListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	var resp AppsListResponse
	if err := h.service.AppsList(c.Request.Context(), &req, &resp); err != nil {
		h.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, &resp)
}

func (h *HTTPHandler) DupsAdd(c *gin.Context) {
	var req DupsAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	var resp DupsAddResponse
	if err := h.service.DupsAdd(c.Request.Context(), &req, &resp); err != nil {
		h.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, &resp)
}

func (h *HTTPHandler) DupsModify(c *gin.Context) {
	var req DupsModifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	var resp DupsModifyResponse
	if err := h.service.DupsModify(c.Request.Context(), &req, &resp); err != nil {
		h.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, &resp)
}

func (h *HTTPHandler) DupsQuery(c *gin.Context) {
	var req DupsQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	var resp DupsQueryResponse
	if err := h.service.DupsQuery(c.Request.Context(), &req, &resp); err != nil {
		h.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, &resp)
}

func (h *HTTPHandler) DupsSync(c *gin.Context) {
	var req DupsSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.replyError(c, NewInvalidOption("while reading request body: %s", err))
		return
	}

	var resp DupsSyncResponse
	if err := h.service.DupsSync(c.Request.Context(), &req, &resp); err != nil {
		h.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, &resp)
}

// Health implements the RFC health check draft
// (draft-inadarei-api-health-check-06)
func (h *HTTPHandler) Health(c *gin.Context) {
	c.Header("Content-Type", "application/health+json")
	c.JSON(http.StatusOK, &HealthResponse{
		Status:      HealthStatusPass,
		Version:     h.version,
		Description: "cross cluster duplication tracker",
	})
}

func (h *HTTPHandler) replyOK(c *gin.Context) {
	c.JSON(http.StatusOK, &Reply{Code: CodeOK, CodeText: CodeText(CodeOK)})
}

func (h *HTTPHandler) replyError(c *gin.Context, err error) {
	var te Error
	if errors.As(err, &te) {
		c.AbortWithStatusJSON(te.Code(), te.ToReply())
		return
	}

	// Anything unhandled is logged with the request id, the caller only sees
	// the id so internal details never leak into responses.
	id := c.GetString(requestIDKey)
	h.log.Error("internal error during request",
		"error", err, "path", c.Request.URL.Path, "request.id", id)
	c.AbortWithStatusJSON(http.StatusInternalServerError, &Reply{
		Code:     CodeRequestFailed,
		CodeText: CodeText(CodeRequestFailed),
		Message:  "internal error, contact the cluster operator and provide request id '" + id + "'",
	})
}

// Describe fetches prometheus metrics to be registered
func (h *HTTPHandler) Describe(ch chan<- *prometheus.Desc) {
	h.duration.Describe(ch)
}

// Collect fetches metrics from the server for use by prometheus
func (h *HTTPHandler) Collect(ch chan<- prometheus.Metric) {
	h.duration.Collect(ch)
}
