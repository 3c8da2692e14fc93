package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"registry-service/internal/config"
	"registry-service/internal/http/middleware"
	"registry-service/internal/service"
)

const maxUploadSize = 10 << 20

type Handler struct {
	rutService    *service.RUTService
	personService *service.PersonService
	config        *config.Config
	log           zerolog.Logger
}

func NewHandler(
	rutService *service.RUTService,
	personService *service.PersonService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		rutService:    rutService,
		personService: personService,
		config:        cfg,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/rut/validate", h.validateRUT)
		public.POST("/rut/validate/batch", h.validateRUTBatch)
		public.GET("/rut/format", h.formatRUT)
		public.GET("/rut/format-input", h.formatRUTInput)
		public.GET("/rut/check-digit", h.checkDigit)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/persons", h.listPersons)
		protected.GET("/persons/:id", h.getPerson)
	}

	editors := r.Group("/api/v1")
	editors.Use(authMiddleware, middleware.RequireEditor())
	{
		editors.POST("/persons", h.createPerson)
		editors.PATCH("/persons/:id", h.updatePerson)
		editors.POST("/persons/import", h.importPersons)
		editors.POST("/persons/export", h.exportPersons)
	}

	admins := r.Group("/api/v1")
	admins.Use(authMiddleware, middleware.RequireAdmin())
	{
		admins.DELETE("/persons/:id", h.deletePerson)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value := c.Query(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
