package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/errors"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// RespondWithError writes err using its AppError status and code.
func RespondWithError(c *gin.Context, err error) {
	status, body := errors.Response(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}
