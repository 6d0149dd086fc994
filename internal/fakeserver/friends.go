package fakeserver

import (
	"net/http"

	"chatsync/internal/channel"

	"github.com/gin-gonic/gin"
)

type friendsHandler struct {
	s *Server
}

func (h *friendsHandler) List(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	friends := h.s.db.Friends(userID)
	for i := range friends {
		friends[i].Online = h.s.hub.Connected(friends[i].ID)
	}
	c.JSON(http.StatusOK, friends)
}

func (h *friendsHandler) Requests(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	reqs := h.s.db.Requests(userID)
	if reqs == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *friendsHandler) SendRequest(c *gin.Context) {
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

	req, err := h.s.db.CreateRequest(userID, body.FriendID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.s.hub.Emit(body.FriendID, channel.EventFriendRequest, gin.H{"requestId": req.ID, "fromUser": req.From})
	h.s.hub.Emit(userID, channel.EventFriendRequestSent, gin.H{"requestId": req.ID, "toUser": h.s.db.Participant(body.FriendID)})
	c.JSON(http.StatusOK, gin.H{"message": "Friend request sent", "request": req})
}

func (h *friendsHandler) Accept(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	senderID, err := h.s.db.Accept(userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.s.hub.Emit(senderID, channel.EventFriendRequestAccepted, gin.H{"acceptedBy": h.s.db.Participant(userID)})
	c.JSON(http.StatusOK, gin.H{"message": "Friend request accepted"})
}

func (h *friendsHandler) Reject(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	senderID, err := h.s.db.Reject(userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.s.hub.Emit(senderID, channel.EventFriendRequestRejected, gin.H{"rejectedBy": h.s.db.Participant(userID)})
	c.JSON(http.StatusOK, gin.H{"message": "Friend request rejected"})
}

func (h *friendsHandler) Remove(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}
	friendID := c.Param("id")
	if err := h.s.db.RemoveFriend(userID, friendID); err != nil {
		writeError(c, err)
		return
	}
	h.s.hub.Emit(friendID, channel.EventFriendRemoved, gin.H{"friend": h.s.db.Participant(userID)})
	c.JSON(http.StatusOK, gin.H{"message": "Friend removed"})
}
