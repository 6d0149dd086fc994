package fakeserver

import (
	"net/http"
	"path/filepath"

	"chatsync/internal/channel"
	"chatsync/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type profileHandler struct {
	s *Server
}

func (h *profileHandler) Own(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	p, err := h.s.db.Profile(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *profileHandler) Get(c *gin.Context) {
	if _, ok := mustUserID(c); !ok {
		return
	}
	p, err := h.s.db.Profile(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	p.Email = ""
	c.JSON(http.StatusOK, p)
}

type updateProfileBody struct {
	Name    *string               `json:"name"`
	Profile *model.ProfileDetails `json:"profile"`
}

func (h *profileHandler) Update(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	p, err := h.s.db.UpdateProfile(userID, body.Name, body.Profile)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UploadAvatar stores only the generated path; the image bytes are dropped.
func (h *profileHandler) UploadAvatar(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	file, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Avatar file is required"})
		return
	}
	avatar := "/uploads/avatars/" + uuid.NewString() + filepath.Ext(file.Filename)
	if err := h.s.db.SetAvatar(userID, avatar); err != nil {
		writeError(c, err)
		return
	}
	h.s.hub.Broadcast(userID, channel.EventAvatarUpdated, gin.H{"userId": userID, "avatar": avatar})
	c.JSON(http.StatusOK, gin.H{"avatar": avatar})
}
