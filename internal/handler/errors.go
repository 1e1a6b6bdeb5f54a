package handler

import (
	"errors"
	"net/http"

	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP statuses. Anything unrecognised is a 500.
func writeError(c *gin.Context, err error) {
	var (
		ve *service.ValidationError
		se *service.InvalidStateError
		pe *service.PreconditionError
		ne *service.NotFoundError
		fe *service.ForbiddenError
	)

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, response.Validation(http.StatusUnprocessableEntity, err.Error(), ve.Fields))
	case errors.As(err, &se):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	case errors.As(err, &pe):
		c.JSON(http.StatusPreconditionFailed, response.Error(http.StatusPreconditionFailed, err.Error()))
	case errors.As(err, &ne):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.As(err, &fe):
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, err.Error()))
	default:
		c.Error(err) //nolint:errcheck
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

func currentActor(c *gin.Context) service.Actor {
	id, role := middleware.CurrentUser(c)
	return service.Actor{ID: id, Role: role}
}
