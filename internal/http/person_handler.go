package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"registry-service/internal/domain/person"
	"registry-service/internal/http/middleware"
	"registry-service/internal/service"
)

func (h *Handler) listPersons(c *gin.Context) {
	// ?rut= turns the listing into an exact lookup
	if raw := strings.TrimSpace(c.Query("rut")); raw != "" {
		p, err := h.personService.GetByRUT(c.Request.Context(), raw)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, successResponse(p))
		return
	}

	result, err := h.personService.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) getPerson(c *gin.Context) {
	id, ok := h.personID(c)
	if !ok {
		return
	}

	p, err := h.personService.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(p))
}

func (h *Handler) createPerson(c *gin.Context) {
	var payload person.CreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	p, err := h.personService.Create(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(p))
}

func (h *Handler) updatePerson(c *gin.Context) {
	id, ok := h.personID(c)
	if !ok {
		return
	}

	var payload person.UpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	p, err := h.personService.Update(c.Request.Context(), id, payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(p))
}

func (h *Handler) deletePerson(c *gin.Context) {
	id, ok := h.personID(c)
	if !ok {
		return
	}

	if err := h.personService.Delete(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) importPersons(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("file is required"))
		return
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, errorResponse("only .xlsx files are supported"))
		return
	}

	file, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Str("file_name", fh.Filename).Msg("failed to open uploaded file")
		c.JSON(http.StatusBadRequest, errorResponse("cannot read uploaded file"))
		return
	}
	defer file.Close()

	var importedBy *uuid.UUID
	if principal, ok := middleware.PrincipalFromContext(c); ok {
		importedBy = &principal.UserID
	}

	h.log.Info().
		Str("file_name", fh.Filename).
		Int64("size", fh.Size).
		Msg("importing persons")

	result, err := h.personService.ImportWorkbook(c.Request.Context(), fh.Filename, importedBy, file)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) exportPersons(c *gin.Context) {
	result, err := h.personService.Export(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	if result.URL != "" {
		c.JSON(http.StatusOK, successResponse(result))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	c.Data(http.StatusOK, service.XLSXContentType, result.Content)
}

func (h *Handler) personID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid person id"))
		return uuid.Nil, false
	}
	return id, true
}

func filterFromQuery(c *gin.Context) person.Filter {
	return person.Filter{
		Query:   c.Query("q"),
		Region:  c.Query("region"),
		Commune: c.Query("commune"),
		Limit:   queryInt(c, "limit", 0),
		Offset:  queryInt(c, "offset", 0),
	}
}
