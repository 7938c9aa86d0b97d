package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voicegate-server-go/internal/platform/errors"
)

// APIResponse is the uniform envelope for every JSON endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

func respond(c *gin.Context, httpStatus int, success bool, message string, data interface{}) {
	if message == "" {
		if success {
			message = "ok"
		} else {
			message = http.StatusText(httpStatus)
		}
	}

	resp := APIResponse{
		Success: success,
		Message: message,
		Code:    httpStatus,
	}
	if data == nil {
		resp.Data = gin.H{}
	} else {
		resp.Data = data
	}

	c.JSON(httpStatus, resp)
}

func respondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	respond(c, httpStatus, true, message, data)
}

func respondError(c *gin.Context, err error) {
	respond(c, statusForKind(errors.KindOf(err)), false, err.Error(), nil)
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalid:
		return http.StatusBadRequest
	case errors.KindSession:
		return http.StatusNotFound
	case errors.KindBusy:
		return http.StatusTooManyRequests
	case errors.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
