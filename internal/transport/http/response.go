package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Коды ответа в теле. HTTP-статус дублирует класс ошибки.
const (
	CodeSuccess         = 0
	CodeParamError      = 400
	CodeNotFound        = 404
	CodeConflict        = 409
	CodeServerError     = 500
	CodeInvalidState    = 1001
	CodePaymentRejected = 1002
)

// Response — общий конверт ответа.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: "success", Data: data})
}

func paramError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: CodeParamError, Message: message})
}

// fail переводит доменную ошибку в HTTP-ответ.
func (h *Handler) fail(c *gin.Context, err error, operation string) {
	switch {
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, Response{Code: CodeNotFound, Message: err.Error()})
	case domain.IsValidation(err):
		paramError(c, err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, Response{Code: CodeInvalidState, Message: err.Error()})
	case errors.Is(err, domain.ErrPaymentNotAllowed), errors.Is(err, domain.ErrPendingPaymentExists):
		c.JSON(http.StatusConflict, Response{Code: CodePaymentRejected, Message: err.Error()})
	case errors.Is(err, domain.ErrAlreadyExists):
		c.JSON(http.StatusConflict, Response{Code: CodeConflict, Message: err.Error()})
	default:
		h.logger.WithError(err).WithField("operation", operation).Error("request failed")
		c.JSON(http.StatusInternalServerError, Response{Code: CodeServerError, Message: "failed to " + operation})
	}
}
