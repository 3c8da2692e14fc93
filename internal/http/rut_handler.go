package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"registry-service/internal/rut"
)

type validateRequest struct {
	RUT string `json:"rut"`
}

type validateBatchRequest struct {
	RUTs []string `json:"ruts" binding:"required"`
}

func (h *Handler) validateRUT(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(h.rutService.Check(req.RUT)))
}

func (h *Handler) validateRUTBatch(c *gin.Context) {
	var req validateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	results, err := h.rutService.CheckBatch(req.RUTs)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(results))
}

// formatRUT answers with a null "formatted" field when the value does not validate.
func (h *Handler) formatRUT(c *gin.Context) {
	value := c.Query("value")

	var formatted *string
	if f, ok := rut.Format(value); ok {
		formatted = &f
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"input":     value,
		"valid":     formatted != nil,
		"formatted": formatted,
	}))
}

func (h *Handler) formatRUTInput(c *gin.Context) {
	value := c.Query("value")
	c.JSON(http.StatusOK, successResponse(gin.H{
		"input":     value,
		"formatted": rut.FormatInput(value),
	}))
}

func (h *Handler) checkDigit(c *gin.Context) {
	body := c.Query("body")
	dv, err := h.rutService.CheckDigit(body)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"body":        body,
		"check_digit": dv,
		"formatted":   rut.RUT{Body: body, Verifier: dv}.String(),
	}))
}
