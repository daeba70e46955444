package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/utils"
)

const (
	defaultMessagesLimit = 10
	maxMessagesLimit     = 200
)

// ListMessagesResponse is one page of a user's ledger, oldest first.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	// NextCursor fetches the page before this one; empty on the oldest page.
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListMessages godoc
// @ID          listUserMessages
// @Summary     List a user's messages
// @Description Returns the newest messages of a canonical user in chronological order.
// @Description Pass next_cursor back as cursor to page further into the past.
// @Description Supports a weak ETag via If-None-Match.
// @Tags        Users
// @Produce     json
// @Param       id             path    string  true   "Canonical user id"  format(uuid)
// @Param       limit          query   int     false  "Page size"  minimum(1) maximum(200) default(10)
// @Param       cursor         query   string  false  "Opaque cursor from a previous page"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for this page"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad cursor"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /users/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid := strings.TrimSpace(c.Param("id"))
	limit := utils.ClampLimit(utils.AtoiDefault(c.Query("limit"), defaultMessagesLimit), defaultMessagesLimit, maxMessagesLimit)
	cursor := strings.TrimSpace(c.Query("cursor"))

	page, err := h.ledger.LoadRecent(c.Request.Context(), uid, limit, cursor)
	if err != nil {
		failErr(c, err)
		return
	}

	etag := pageETag(uid, cursor, page.Messages)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	msgs := page.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: msgs, NextCursor: page.NextCursor})
}

// pageETag changes whenever a newer message lands on the page or a reply
// is filled in.
func pageETag(uid, cursor string, msgs []domain.Message) string {
	var newest string
	replied := 0
	for _, m := range msgs {
		if m.Response != nil {
			replied++
		}
	}
	if n := len(msgs); n > 0 {
		newest = msgs[n-1].ID
	}
	return fmt.Sprintf(`W/"msgs:%s:%s:%s:%d:%d"`, uid, cursor, newest, len(msgs), replied)
}
