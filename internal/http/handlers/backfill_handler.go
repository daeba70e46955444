package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/http/middleware"
	"github.com/athenaai/athena/internal/services"
)

// RunBackfillRequest tunes one migration run. An empty body starts from the
// beginning with the default page size.
type RunBackfillRequest struct {
	PageSize int `json:"page_size" binding:"omitempty,min=1,max=5000" example:"500"`
	// Resume continues from the last saved checkpoint.
	Resume bool `json:"resume" example:"true"`
}

// RunBackfill godoc
// @ID          runBackfill
// @Summary     Migrate legacy messages to canonical owners
// @Description Runs the ledger owner migration synchronously and returns its report.
// @Description Safe to repeat: rows that already have an owner are never rewritten.
// @Tags        Backfill
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RunBackfillRequest  false  "Run options"
// @Success     200   {object}  services.Report
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409   {object}  handlers.ErrorResponse  "A run is already in progress"
// @Failure     503   {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /backfill [post]
func (h *Handlers) RunBackfill(c *gin.Context) {
	var req RunBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "page_size must be between 1 and 5000")
		return
	}
	size := req.PageSize
	if size <= 0 {
		size = h.DefaultPageSize
	}

	run := h.backfill.Migrate
	if req.Resume {
		run = h.backfill.Resume
	}
	rep, err := run(c.Request.Context(), size)
	if err != nil {
		if !errors.Is(err, services.ErrBackfillRunning) {
			middleware.LoggerFrom(c).Error().Err(err).
				Int("scanned", rep.Scanned).
				Int("updated", rep.Updated).
				Str("cursor", rep.Cursor).
				Msg("backfill aborted")
		}
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}
