package fakeserver

import (
	"net/http"
	"strings"

	"chatsync/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type conversationHandler struct {
	s *Server
}

func (h *conversationHandler) Mine(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.s.db.Conversations(userID))
}

func (h *conversationHandler) CreatePrivate(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	var body struct {
		FriendID string `json:"friendId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.FriendID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	conv, err := h.s.db.PrivateConversation(userID, body.FriendID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *conversationHandler) Messages(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	msgs, err := h.s.db.Messages(c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Send stores a message. JSON bodies carry text or a sticker; multipart
// bodies add repeated "files" parts. Broadcasting is left to the sender's
// socket.
func (h *conversationHandler) Send(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var msg model.Message
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		msg.Text = first(form.Value["text"])
		msg.Sticker = first(form.Value["sticker"])
		for _, f := range form.File["files"] {
			msg.Files = append(msg.Files, "/uploads/files/"+uuid.NewString()+"-"+f.Filename)
		}
	} else {
		var body struct {
			Text    string `json:"text"`
			Sticker string `json:"sticker"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		msg.Text, msg.Sticker = body.Text, body.Sticker
	}

	stored, err := h.s.db.AddMessage(c.Param("id"), userID, msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
