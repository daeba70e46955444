// Identity HTTP handlers.
//
//   - POST /identities/resolve   (get-or-create the canonical user of a platform identity)
//   - GET  /users/{id}           (canonical user with platforms and links)
//   - POST /users/{id}/links     (attach another platform identity)
//
// Non-Discord clients (mobile, desktop) call resolve once per session and
// use the returned canonical id afterwards.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/domain"
)

// ResolveIdentityRequest names a platform identity.
type ResolveIdentityRequest struct {
	Platform       string `json:"platform"         binding:"required,max=32"  example:"mobile"`
	PlatformUserID string `json:"platform_user_id" binding:"required,max=128" example:"device-7f3a"`
	// DisplayName is only used when a new canonical user is created.
	DisplayName string `json:"display_name" binding:"max=255" example:"Alice"`
}

// ResolveIdentityResponse carries the canonical id and how it was found.
type ResolveIdentityResponse struct {
	CanonicalUserID string `json:"canonical_user_id" example:"0b9c6a1e-7f2d-4a53-9b8e-3c1d2e4f5a6b"`
	// Path is fast, recheck or created.
	Path string `json:"path" example:"fast"`
}

// UserResponse is a canonical user with its links.
type UserResponse struct {
	User  *domain.CanonicalUser `json:"user"`
	Links []domain.PlatformLink `json:"links"`
}

// LinkPlatformRequest names the identity to attach.
type LinkPlatformRequest struct {
	Platform       string `json:"platform"         binding:"required,max=32"  example:"desktop"`
	PlatformUserID string `json:"platform_user_id" binding:"required,max=128" example:"host-42"`
}

// ResolveIdentity godoc
// @ID          resolveIdentity
// @Summary     Resolve a platform identity
// @Description Returns the canonical user for a platform identity, creating it on first contact.
// @Description Repeated calls for the same identity always return the same id.
// @Tags        Identities
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.ResolveIdentityRequest  true  "Platform identity"
// @Success     200   {object}  handlers.ResolveIdentityResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid identity"
// @Failure     503   {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /identities/resolve [post]
func (h *Handlers) ResolveIdentity(c *gin.Context) {
	var req ResolveIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform and platform_user_id are required")
		return
	}
	res, err := h.identity.ResolveDetailed(c.Request.Context(), req.Platform, req.PlatformUserID, req.DisplayName)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ResolveIdentityResponse{CanonicalUserID: res.CanonicalUserID, Path: res.Path})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a canonical user
// @Tags        Users
// @Produce     json
// @Param       id   path      string  true  "Canonical user id"  format(uuid)
// @Success     200  {object}  handlers.UserResponse
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	u, links, err := h.links.User(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if links == nil {
		links = []domain.PlatformLink{}
	}
	ok(c, http.StatusOK, UserResponse{User: u, Links: links})
}

// LinkPlatform godoc
// @ID          linkPlatform
// @Summary     Link a platform identity to a user
// @Description Links are never re-pointed: an identity already linked elsewhere yields 409.
// @Tags        Users
// @Accept      json
// @Param       id    path  string                          true  "Canonical user id"  format(uuid)
// @Param       body  body  handlers.LinkPlatformRequest  true  "Identity to link"
// @Success     204   {string}  string  "No Content"
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid identity"
// @Failure     404   {object}  handlers.ErrorResponse  "User not found"
// @Failure     409   {object}  handlers.ErrorResponse  "Identity linked to another user"
// @Failure     503   {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /users/{id}/links [post]
func (h *Handlers) LinkPlatform(c *gin.Context) {
	var req LinkPlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform and platform_user_id are required")
		return
	}
	if err := h.links.Link(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Platform, req.PlatformUserID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
