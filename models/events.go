package models

// Inbound event types
const (
	EventFindAdminToChat = "find_admin_to_chat"
	EventGetChatPartners = "get_chat_partners"
	EventGetConversation = "get_conversation"
	EventSendMessage     = "send_message"
	EventMarkRead        = "mark_read"
	EventTyping          = "typing"
)

// Outbound event types
const (
	EventAdminInfo           = "admin_info"
	EventChatPartnersList    = "chat_partners_list"
	EventConversationHistory = "conversation_history"
	EventReceiveMessage      = "receive_message"
	EventMessageSent         = "message_sent"
	EventMessagesRead        = "messages_read"
	EventOnlineStatus        = "online_status"
	EventProfileUpdated      = "profile_updated"
	EventRoleChanged         = "role_changed"
	EventError               = "error"
)

// Error codes carried by EventError
const (
	CodeBadRequest  = "bad_request"
	CodeValidation  = "validation"
	CodePersistence = "persistence"
	CodeForbidden   = "forbidden"
	CodeNotFound    = "not_found"
)

type GetConversationPayload struct {
	PartnerID int64 `json:"partner_id"`
	AfterID   int64 `json:"after_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

type SendMessagePayload struct {
	ReceiverID int64  `json:"receiver_id"`
	Message    string `json:"message"`
}

type MarkReadPayload struct {
	SenderID int64 `json:"sender_id"`
}

type TypingPayload struct {
	ReceiverID int64 `json:"receiver_id"`
	Typing     bool  `json:"typing"`
}

// MessagesRead tells sessions that reader has read everything sender sent
type MessagesRead struct {
	ReaderID int64 `json:"reader_id"`
	SenderID int64 `json:"sender_id"`
	Count    int64 `json:"count"`
}

type TypingNotice struct {
	UserID int64 `json:"user_id"`
	Typing bool  `json:"typing"`
}

type OnlineStatus struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

type RoleChange struct {
	UserID int64 `json:"user_id"`
	From   Role  `json:"from"`
	To     Role  `json:"to"`
}

// ErrorPayload is sent only to the session whose event failed
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
