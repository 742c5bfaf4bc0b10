package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"communitychat/database"
	"communitychat/directory"
	"communitychat/models"
)

type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// eventError is reported to the originating session only
type eventError struct {
	code    string
	message string
	err     error
}

func (e *eventError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *eventError) Unwrap() error { return e.err }

func validation(message string) error {
	return &eventError{code: models.CodeValidation, message: message}
}

func badRequest(message string) error {
	return &eventError{code: models.CodeBadRequest, message: message}
}

// storeFailure keeps validation sentinels from the store as validation
// errors; everything else is a persistence failure.
func storeFailure(message string, err error) error {
	if errors.Is(err, database.ErrEmptyBody) || errors.Is(err, database.ErrInvalidParticipant) {
		return &eventError{code: models.CodeValidation, message: err.Error(), err: err}
	}
	return &eventError{code: models.CodePersistence, message: message, err: err}
}

// handleEvent runs one inbound event to completion. Errors never leave
// this function except as an error event to c.
func (g *Gateway) handleEvent(c *Client, raw []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		g.replyError(c, "", badRequest("malformed event"))
		return
	}

	// not tied to the connection: a disconnect mid-event still lets the
	// store call finish
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.EventTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case models.EventFindAdminToChat:
		err = g.findAdminToChat(ctx, c)
	case models.EventGetChatPartners:
		err = g.getChatPartners(ctx, c)
	case models.EventGetConversation:
		err = g.getConversation(ctx, c, ev.Payload)
	case models.EventSendMessage:
		err = g.sendMessage(ctx, c, ev.Payload)
	case models.EventMarkRead:
		err = g.markRead(ctx, c, ev.Payload)
	case models.EventTyping:
		err = g.typing(c, ev.Payload)
	default:
		err = badRequest("unknown event " + ev.Type)
	}
	if err != nil {
		g.replyError(c, ev.Type, err)
	}
}

func (g *Gateway) replyError(c *Client, event string, err error) {
	payload := models.ErrorPayload{Event: event, Code: models.CodePersistence, Message: "internal error"}
	var ee *eventError
	if errors.As(err, &ee) {
		payload.Code = ee.code
		payload.Message = ee.message
	}
	if payload.Code == models.CodePersistence {
		g.log.Error("event failed", "event", event, "user_id", c.identity.UserID, "session", c.id, "err", err)
	} else {
		g.log.Debug("event rejected", "event", event, "user_id", c.identity.UserID, "code", payload.Code, "err", err)
	}
	c.reply(models.EventError, payload)
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return badRequest("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("invalid payload")
	}
	return nil
}

func (g *Gateway) findAdminToChat(ctx context.Context, c *Client) error {
	if c.identity.Role != models.RoleResident {
		return &eventError{code: models.CodeForbidden, message: "only residents look up an admin"}
	}
	admin, err := g.dir.DefaultAdmin(ctx)
	if errors.Is(err, directory.ErrNoAdmin) {
		return &eventError{code: models.CodeNotFound, message: "no admin available", err: err}
	}
	if err != nil {
		return storeFailure("failed to find admin", err)
	}
	c.reply(models.EventAdminInfo, admin)
	return nil
}

func (g *Gateway) getChatPartners(ctx context.Context, c *Client) error {
	partners, err := g.dir.ListPartners(ctx, c.identity.UserID)
	if err != nil {
		return storeFailure("failed to list chat partners", err)
	}
	c.reply(models.EventChatPartnersList, partners)
	return nil
}

func (g *Gateway) getConversation(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p models.GetConversationPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.PartnerID <= 0 {
		return validation("partner_id is required")
	}

	messages, err := g.store.FetchConversation(ctx, c.identity.UserID, p.PartnerID, g.page(p.AfterID, p.Limit))
	if err != nil {
		return storeFailure("failed to load conversation", err)
	}
	c.reply(models.EventConversationHistory, models.WireMessages(messages))
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p models.SendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	msg, err := g.deliver(ctx, c.identity, p.ReceiverID, p.Message, c)
	if err != nil {
		return err
	}
	c.reply(models.EventMessageSent, msg.Wire())
	return nil
}

// deliver validates, stores and fans out one message. Nothing is pushed
// unless the store accepted it. origin, when set, is the session that
// sent it and is skipped in the sender's own fan-out.
func (g *Gateway) deliver(ctx context.Context, sender models.Identity, receiverID int64, body string, origin *Client) (*models.Message, error) {
	senderID := sender.UserID
	if strings.TrimSpace(body) == "" {
		return nil, validation("message is required")
	}
	if receiverID <= 0 || receiverID == senderID {
		return nil, validation("invalid receiver_id")
	}
	role, known, err := g.dir.Role(ctx, receiverID)
	if err != nil {
		return nil, storeFailure("failed to check receiver", err)
	}
	if !known {
		role, known = g.hub.OnlineRole(receiverID)
	}
	if !known {
		return nil, validation("unknown receiver_id")
	}
	// a resident's only partner is the admin
	if !sender.IsAdmin() && role != models.RoleAdmin {
		return nil, &eventError{code: models.CodeForbidden, message: "residents can only message an admin"}
	}

	unlock := g.hub.lockSender(senderID)
	defer unlock()

	msg, err := g.store.Append(ctx, senderID, receiverID, body)
	if err != nil {
		return nil, storeFailure("failed to send message", err)
	}

	data, err := encodeEvent(models.EventReceiveMessage, msg.Wire())
	if err != nil {
		return nil, storeFailure("failed to encode message", err)
	}
	g.hub.Push(receiverID, data, nil)
	g.hub.Push(senderID, data, origin)
	return msg, nil
}

func (g *Gateway) markRead(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p models.MarkReadPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	_, err := g.markConversationRead(ctx, c.identity.UserID, p.SenderID, c)
	return err
}

// markConversationRead is identity-wide: the caller's other sessions and
// the sender hear about it when anything changed.
func (g *Gateway) markConversationRead(ctx context.Context, readerID, senderID int64, origin *Client) (int64, error) {
	if senderID <= 0 {
		return 0, validation("sender_id is required")
	}
	n, err := g.store.MarkRead(ctx, readerID, senderID)
	if err != nil {
		return 0, storeFailure("failed to mark messages read", err)
	}
	if n > 0 {
		notice := models.MessagesRead{ReaderID: readerID, SenderID: senderID, Count: n}
		g.hub.PushEvent(readerID, models.EventMessagesRead, notice, origin)
		g.hub.PushEvent(senderID, models.EventMessagesRead, notice, nil)
	}
	return n, nil
}

func (g *Gateway) typing(c *Client, raw json.RawMessage) error {
	var p models.TypingPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ReceiverID <= 0 || p.ReceiverID == c.identity.UserID {
		return validation("invalid receiver_id")
	}
	g.hub.PushEvent(p.ReceiverID, models.EventTyping, models.TypingNotice{
		UserID: c.identity.UserID,
		Typing: p.Typing,
	}, nil)
	return nil
}

func (g *Gateway) page(afterID int64, limit int) database.Page {
	if limit > g.opts.MaxPageSize {
		limit = g.opts.MaxPageSize
	}
	if limit < 0 {
		limit = 0
	}
	if afterID < 0 {
		afterID = 0
	}
	return database.Page{AfterID: afterID, Limit: limit}
}
