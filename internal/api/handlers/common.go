package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yoockh/anamnesi/internal/utils"
)

// APIError is the body of every failed REST call. Retryable marks failures
// of an upstream or transient dependency: the clinician can repeat the same
// action without changing anything.
type APIError struct {
	Code        utils.Code `json:"code"`
	Message     string     `json:"message"`
	InterviewID string     `json:"interview_id,omitempty"`
	Retryable   bool       `json:"retryable,omitempty"`
}

func retryable(code utils.Code) bool {
	switch code {
	case utils.CodeUnavailable, utils.CodeTimeout, utils.CodeServiceCall:
		return true
	}
	return false
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	body := APIError{
		Code:        utils.CodeInternal,
		Message:     http.StatusText(status),
		InterviewID: c.Param("interview_id"),
	}

	var ae *utils.AppError
	if errors.As(err, &ae) {
		body.Code = ae.Code
		body.Message = ae.Message
	}
	body.Retryable = retryable(body.Code)

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func requireUserID(c *gin.Context) (string, bool) {
	if s := c.GetString("user_id"); s != "" {
		return s, true
	}
	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

// interviewParam returns the interview id from the path. Ids are uuids, so
// anything else cannot name an interview and answers NOT_FOUND directly.
func interviewParam(c *gin.Context) (string, bool) {
	id := c.Param("interview_id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(c, utils.E(utils.CodeNotFound, "InterviewHandler", "interview not found", err))
		return "", false
	}
	return id, true
}
