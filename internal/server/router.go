package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/replication"
	"github.com/seadriftlabs/seadrift/internal/revision"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
)

var errMissingReplicationService = errors.New("replication service dependency required")

// Dependencies carries everything the HTTP handler needs.
type Dependencies struct {
	Replication *replication.Service
	// Actor is recorded as updated_by on revisions ingested over HTTP.
	Actor  string
	Logger *zap.Logger
}

// NewHTTPHandler wires the replication surface onto a gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Replication == nil {
		return nil, errMissingReplicationService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		replication: deps.Replication,
		actor:       deps.Actor,
		logger:      logger,
	}

	entity := router.Group("/r/:entity")
	entity.GET("", handler.handleInfo)
	entity.GET("/_changes", handler.handleChanges)
	entity.POST("/_revs_diff", handler.handleRevsDiff)
	entity.POST("/_bulk_docs", handler.handleBulkDocs)
	entity.GET("/_local/:replicationID", handler.handleGetCheckpoint)
	entity.PUT("/_local/:replicationID", handler.handlePutCheckpoint)
	entity.GET("/:id", handler.handleOpenRevs)

	return router, nil
}

type httpHandler struct {
	replication *replication.Service
	actor       string
	logger      *zap.Logger
}

func (h *httpHandler) handleInfo(c *gin.Context) {
	response, err := h.replication.Info(c.Request.Context(), c.Param("entity"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleChanges(c *gin.Context) {
	since := int64(0)
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "since must be a non-negative integer"})
			return
		}
		since = parsed
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	response, err := h.replication.Changes(c.Request.Context(), c.Param("entity"), c.Query("feed"), c.Query("style"), since, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRevsDiff(c *gin.Context) {
	var request replication.RevsDiffRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "body must map doc ids to revision lists"})
		return
	}

	response, err := h.replication.RevsDiff(c.Request.Context(), c.Param("entity"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleBulkDocs(c *gin.Context) {
	var request replication.BulkDocsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "body must carry new_edits and docs"})
		return
	}

	results, err := h.replication.BulkDocs(c.Request.Context(), c.Param("entity"), request, h.actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, results)
}

func (h *httpHandler) handleOpenRevs(c *gin.Context) {
	var revs []string
	if raw := c.Query("open_revs"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &revs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "open_revs must be a JSON array of revisions"})
			return
		}
	}

	entries, err := h.replication.OpenRevs(c.Request.Context(), c.Param("entity"), c.Param("id"), revs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "multipart/mixed") {
		contentType, body, err := replication.EncodeMultipartMixed(entries)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, contentType, body)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleGetCheckpoint(c *gin.Context) {
	document, err := h.replication.GetCheckpoint(c.Request.Context(), c.Param("entity"), c.Param("replicationID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", document)
}

func (h *httpHandler) handlePutCheckpoint(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "unreadable body"})
		return
	}

	response, err := h.replication.PutCheckpoint(c.Request.Context(), c.Param("entity"), c.Param("replicationID"), body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// respondError translates domain errors onto the HTTP surface. Data
// integrity violations and unexpected failures are logged server-side and
// surface as opaque 500s.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mvcc.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "reason": err.Error()})
	case errors.Is(err, mvcc.ErrNotFound), errors.Is(err, schema.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": err.Error()})
	case errors.Is(err, mvcc.ErrNotImplemented):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_implemented", "reason": err.Error()})
	case errors.Is(err, mvcc.ErrNotALeaf),
		errors.Is(err, revision.ErrMalformedRevision),
		errors.Is(err, revision.ErrMalformedPayload),
		errors.Is(err, schema.ErrUnknownField),
		errors.Is(err, schema.ErrMissingField),
		errors.Is(err, schema.ErrInvalidFieldValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": err.Error()})
	case errors.Is(err, mvcc.ErrDataIntegrity):
		h.logger.Error("data integrity violation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "reason": "data integrity violation"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "reason": "unexpected failure"})
	}
}
