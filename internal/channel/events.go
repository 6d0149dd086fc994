package channel

import "chatsync/internal/model"

// MessagePayload is a stored message plus the room it is broadcast to, the
// shape of both sendMessage and receiveMessage.
type MessagePayload struct {
	Room string `json:"room"`
	model.Message
}

// Inbound events.
const (
	EventOnlineUsers           = "onlineUsers"
	EventUserOnline            = "userOnline"
	EventUserOffline           = "userOffline"
	EventAvatarUpdated         = "avatarUpdated"
	EventReceiveMessage        = "receiveMessage"
	EventUserTyping            = "userTyping"
	EventUserStopTyping        = "userStopTyping"
	EventFriendRequest         = "friendRequest"
	EventFriendRequestSent     = "friendRequestSent"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestRejected = "friendRequestRejected"
	EventFriendAdded           = "friendAdded"
	EventFriendRemoved         = "friendRemoved"
	EventAchievementUnlocked   = "achievementUnlocked"
)

// Outbound events.
const (
	EventRegisterUser = "registerUser"
	EventJoinRoom     = "joinRoom"
	EventSendMessage  = "sendMessage"
	EventStartTyping  = "startTyping"
	EventStopTyping   = "stopTyping"
)

// Inbound lists every server-to-client event the engine understands.
var Inbound = []string{
	EventOnlineUsers,
	EventUserOnline,
	EventUserOffline,
	EventAvatarUpdated,
	EventReceiveMessage,
	EventUserTyping,
	EventUserStopTyping,
	EventFriendRequest,
	EventFriendRequestSent,
	EventFriendRequestAccepted,
	EventFriendRequestRejected,
	EventFriendAdded,
	EventFriendRemoved,
	EventAchievementUnlocked,
}
