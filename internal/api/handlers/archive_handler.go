package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/anamnesi/internal/api/middleware"
	"github.com/yoockh/anamnesi/internal/services"
	"github.com/yoockh/anamnesi/internal/utils"
)

type ArchiveHandler struct {
	svc services.ArchiveService
}

func NewArchiveHandler(svc services.ArchiveService) *ArchiveHandler {
	return &ArchiveHandler{svc: svc}
}

// List returns the caller's archived cycles; admins see every owner.
func (h *ArchiveHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, "ArchiveHandler.List", "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	rows, err := h.svc.List(c.Request.Context(), userID, middleware.IsAdmin(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

func (h *ArchiveHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	rec, err := h.svc.Get(c.Request.Context(), c.Param("record_id"), userID, middleware.IsAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
