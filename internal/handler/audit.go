package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GoPolymarket/polyaudit/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyaudit/internal/repository"
	"github.com/GoPolymarket/polyaudit/internal/service"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// Register mounts the query routes on rg.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/traces/:traceId", h.ByTrace)
	rg.GET("/applications/:name", h.ByApplication)
}

// ByTrace returns every record of one trace, oldest first.
func (h *AuditHandler) ByTrace(c *gin.Context) {
	traceID := c.Param("traceId")
	if traceID == "" {
		c.Error(apperrors.NewInvalidRequest("traceId is required"))
		return
	}

	records, err := h.svc.GetByTraceID(c.Request.Context(), traceID)
	if err != nil {
		c.Error(storageError(err))
		return
	}
	c.JSON(http.StatusOK, records)
}

// ByApplication returns one page of an application's records, newest first.
func (h *AuditHandler) ByApplication(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		c.Error(err)
		return
	}
	pageSize, err := queryInt(c, "pageSize", service.DefaultPageSize)
	if err != nil {
		c.Error(err)
		return
	}

	records, err := h.svc.ListByApplication(c.Request.Context(), c.Param("name"), page, pageSize)
	if err != nil {
		c.Error(storageError(err))
		return
	}
	c.JSON(http.StatusOK, records)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, apperrors.NewInvalidRequest(key + " must be a positive integer")
	}
	return v, nil
}

func storageError(err error) error {
	if errors.Is(err, repository.ErrInvalidPage) {
		return apperrors.NewInvalidRequest(err.Error())
	}
	return apperrors.NewStorage(err)
}
