package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/services"
	"github.com/yoockh/anamnesi/internal/session"
	"github.com/yoockh/anamnesi/internal/utils"
)

type InterviewHandler struct {
	svc services.InterviewService
}

func NewInterviewHandler(svc services.InterviewService) *InterviewHandler {
	return &InterviewHandler{svc: svc}
}

type CreateInterviewResponse struct {
	InterviewID string       `json:"interview_id"`
	Status      models.State `json:"status"`
	CreatedAt   string       `json:"created_at"`
}

type StartInterviewRequest struct {
	Mode             models.AnalysisMode `json:"mode"`              // batch|live, default from config
	ScreeningSection string              `json:"screening_section"` // default "Generale"
	Source           session.SourceKind  `json:"source"`            // pcm|encoded
}

func (h *InterviewHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	meta, err := h.svc.Create(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateInterviewResponse{
		InterviewID: meta.InterviewID,
		Status:      meta.Status,
		CreatedAt:   meta.CreatedAt.Format(time.RFC3339),
	})
}

func (h *InterviewHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	snap, err := h.svc.Snapshot(c.Request.Context(), interviewID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *InterviewHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	var req StartInterviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Start", "invalid request body", err))
			return
		}
	}

	snap, err := h.svc.Start(c.Request.Context(), interviewID, userID, session.StartOptions{
		Mode:             req.Mode,
		ScreeningSection: req.ScreeningSection,
		Source:           req.Source,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Stop responds once the final document is produced.
func (h *InterviewHandler) Stop(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	snap, err := h.svc.Stop(c.Request.Context(), interviewID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *InterviewHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), interviewID, userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InterviewHandler) ExportDocument(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	out, err := h.svc.ExportDocument(c.Request.Context(), interviewID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *InterviewHandler) Chunks(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	var cycle int64
	if v := c.Query("cycle"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Chunks", "cycle must be an integer", err))
			return
		}
		cycle = n
	}

	out, err := h.svc.Chunks(c.Request.Context(), interviewID, userID, cycle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": out})
}
