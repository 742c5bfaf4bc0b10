// Package widget is the client side of the chat: a state machine for the
// resident and admin chat panels and a socket driver that feeds it.
//
// Widget never touches the network. Each method takes the current state,
// applies one input and returns the commands the caller must send, so the
// "currently selected partner" is always read from explicit state rather
// than from whatever a callback happened to capture.
package widget

import (
	"encoding/json"
	"errors"
	"strings"

	"communitychat/models"
)

var (
	ErrNoPartner    = errors.New("no partner selected")
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a message is already being sent")
)

// Variant selects the resident or the admin panel
type Variant int

const (
	Resident Variant = iota
	Admin
)

func (v Variant) String() string {
	if v == Admin {
		return "admin"
	}
	return "resident"
}

// State is one of Idle, PartnerSelected or Sending
type State interface {
	partner() int64
}

// Idle has no conversation open
type Idle struct{}

// PartnerSelected shows the thread with one partner
type PartnerSelected struct {
	PartnerID int64
}

// Sending waits for the gateway to acknowledge Body
type Sending struct {
	PartnerID int64
	Body      string
}

func (Idle) partner() int64 { return 0 }
func (s PartnerSelected) partner() int64 { return s.PartnerID }
func (s Sending) partner() int64 { return s.PartnerID }

// Command is an event to send to the gateway
type Command = models.WebSocketMessage

// Event is an event received from the gateway
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Widget holds everything a chat panel renders. It is not safe for
// concurrent use; Session serializes access.
type Widget struct {
	variant Variant
	self    int64

	state    State
	open     bool
	thread   []models.WireMessage
	partners []models.ChatPartner
	unread   map[int64]int
	admin    *models.Profile
	lastErr  *models.ErrorPayload

	// receipted is the selected partner whose messages were acknowledged
	// while the panel was open
	receipted int64

	// partners of get_conversation requests not answered yet, oldest
	// first. The gateway answers one session's requests in order.
	pendingHistory []int64
}

// New creates a closed, idle widget for the user selfID
func New(variant Variant, selfID int64) *Widget {
	return &Widget{
		variant: variant,
		self:    selfID,
		state:   Idle{},
		unread:  make(map[int64]int),
	}
}

// Mount returns the discovery command issued once the socket is open
func (w *Widget) Mount() []Command {
	if w.variant == Admin {
		return []Command{{Type: models.EventGetChatPartners}}
	}
	return []Command{{Type: models.EventFindAdminToChat}}
}

// Open shows the panel. The selected conversation is acknowledged now if
// it was picked while closed or received messages since.
func (w *Widget) Open() []Command {
	w.open = true
	pid := w.state.partner()
	if pid == 0 {
		if w.variant == Resident && w.admin != nil {
			return w.Select(w.admin.ID)
		}
		return nil
	}
	if w.receipted == pid && w.unread[pid] == 0 {
		return nil
	}
	w.receipted = pid
	w.unread[pid] = 0
	w.setPartnerUnread(pid, 0)
	return []Command{markRead(pid)}
}

// Close hides the panel; the selected conversation is kept
func (w *Widget) Close() {
	w.open = false
}

// Select opens the conversation with a partner. While the panel is open,
// history is requested and receipts are issued in the same step. A closed
// panel only loads history; receipts wait for Open.
func (w *Widget) Select(partnerID int64) []Command {
	if partnerID <= 0 || partnerID == w.self {
		return nil
	}
	w.state = PartnerSelected{PartnerID: partnerID}
	w.thread = nil
	w.pendingHistory = append(w.pendingHistory, partnerID)
	cmds := []Command{
		{Type: models.EventGetConversation, Payload: models.GetConversationPayload{PartnerID: partnerID}},
	}
	if !w.open {
		w.receipted = 0
		return cmds
	}
	w.receipted = partnerID
	w.unread[partnerID] = 0
	w.setPartnerUnread(partnerID, 0)
	return append(cmds, markRead(partnerID))
}

// Send starts sending body to the selected partner
func (w *Widget) Send(body string) ([]Command, error) {
	switch st := w.state.(type) {
	case Idle:
		return nil, ErrNoPartner
	case Sending:
		return nil, ErrBusy
	case PartnerSelected:
		if strings.TrimSpace(body) == "" {
			return nil, ErrEmptyMessage
		}
		w.state = Sending{PartnerID: st.PartnerID, Body: body}
		w.lastErr = nil
		return []Command{{
			Type:    models.EventSendMessage,
			Payload: models.SendMessagePayload{ReceiverID: st.PartnerID, Message: body},
		}}, nil
	}
	return nil, ErrNoPartner
}

// Apply folds one gateway event into the widget
func (w *Widget) Apply(ev Event) ([]Command, error) {
	switch ev.Type {
	case models.EventAdminInfo:
		var admin models.Profile
		if err := json.Unmarshal(ev.Payload, &admin); err != nil {
			return nil, err
		}
		w.admin = &admin
		if w.variant == Resident {
			if _, idle := w.state.(Idle); idle {
				return w.Select(admin.ID), nil
			}
		}

	case models.EventChatPartnersList:
		var partners []models.ChatPartner
		if err := json.Unmarshal(ev.Payload, &partners); err != nil {
			return nil, err
		}
		w.partners = partners
		pid := w.state.partner()
		for _, p := range partners {
			if p.ID == pid && w.open {
				continue
			}
			w.unread[p.ID] = p.UnreadCount
		}

	case models.EventConversationHistory:
		var messages []models.WireMessage
		if err := json.Unmarshal(ev.Payload, &messages); err != nil {
			return nil, err
		}
		// a late reply for a partner no longer selected is dropped
		pid := w.state.partner()
		if w.historyPartner(messages) != pid || pid == 0 {
			break
		}
		// pushes that overtook the reply stay in the thread
		pushed := w.thread
		w.thread = append([]models.WireMessage{}, messages...)
		for _, m := range pushed {
			w.appendThread(m)
		}
		if !w.open {
			// shown on the badge until the panel is opened
			w.unread[pid] = unreadFrom(pid, w.thread)
			w.setPartnerUnread(pid, w.unread[pid])
		}

	case models.EventReceiveMessage:
		var m models.WireMessage
		if err := json.Unmarshal(ev.Payload, &m); err != nil {
			return nil, err
		}
		return w.receive(m), nil

	case models.EventMessageSent:
		var m models.WireMessage
		if err := json.Unmarshal(ev.Payload, &m); err != nil {
			return nil, err
		}
		if st, ok := w.state.(Sending); ok && st.PartnerID == m.ReceiverID {
			w.state = PartnerSelected{PartnerID: st.PartnerID}
		}
		if m.ReceiverID == w.state.partner() {
			w.appendThread(m)
		}

	case models.EventMessagesRead:
		var n models.MessagesRead
		if err := json.Unmarshal(ev.Payload, &n); err != nil {
			return nil, err
		}
		if n.ReaderID == w.self {
			// read from another tab
			w.unread[n.SenderID] = 0
			w.setPartnerUnread(n.SenderID, 0)
		} else if n.SenderID == w.self && n.ReaderID == w.state.partner() {
			for i := range w.thread {
				if w.thread[i].SenderID == w.self {
					w.thread[i].Read = true
				}
			}
		}

	case models.EventOnlineStatus:
		var s models.OnlineStatus
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			return nil, err
		}
		for i := range w.partners {
			if w.partners[i].ID == s.UserID {
				w.partners[i].Online = s.Online
			}
		}
		if w.admin != nil && w.admin.ID == s.UserID {
			w.admin.Online = s.Online
		}

	case models.EventProfileUpdated:
		var p models.Profile
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, err
		}
		for i := range w.partners {
			if w.partners[i].ID == p.ID {
				w.partners[i].DisplayName = p.DisplayName
			}
		}
		if w.admin != nil && w.admin.ID == p.ID {
			w.admin.DisplayName = p.DisplayName
		}

	case models.EventError:
		var e models.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &e); err != nil {
			return nil, err
		}
		w.lastErr = &e
		if st, ok := w.state.(Sending); ok && e.Event == models.EventSendMessage {
			w.state = PartnerSelected{PartnerID: st.PartnerID}
		}
		if e.Event == models.EventGetConversation && len(w.pendingHistory) > 0 {
			w.pendingHistory = w.pendingHistory[1:]
		}
	}
	return nil, nil
}

func (w *Widget) receive(m models.WireMessage) []Command {
	partner := m.SenderID
	if partner == w.self {
		// echoed from one of our other sessions
		partner = m.ReceiverID
	}
	selected := partner == w.state.partner()
	if selected {
		w.appendThread(m)
	}
	if m.SenderID == w.self {
		return nil
	}

	if selected && w.open {
		return []Command{markRead(partner)}
	}
	w.unread[partner]++
	if !w.setPartnerUnread(partner, w.unread[partner]) && w.variant == Admin {
		w.partners = append([]models.ChatPartner{{
			ID:          partner,
			DisplayName: models.FallbackName(partner),
			UnreadCount: w.unread[partner],
		}}, w.partners...)
	}
	return nil
}

// historyPartner pairs a conversation_history reply with the request it
// answers. An unsolicited reply is attributed from its messages.
func (w *Widget) historyPartner(messages []models.WireMessage) int64 {
	if len(w.pendingHistory) > 0 {
		pid := w.pendingHistory[0]
		w.pendingHistory = w.pendingHistory[1:]
		return pid
	}
	if len(messages) == 0 {
		return 0
	}
	if messages[0].SenderID == w.self {
		return messages[0].ReceiverID
	}
	return messages[0].SenderID
}

func unreadFrom(partnerID int64, messages []models.WireMessage) int {
	n := 0
	for _, m := range messages {
		if m.SenderID == partnerID && !m.Read {
			n++
		}
	}
	return n
}

func (w *Widget) appendThread(m models.WireMessage) {
	for _, existing := range w.thread {
		if existing.ID == m.ID {
			return
		}
	}
	w.thread = append(w.thread, m)
}

func (w *Widget) setPartnerUnread(id int64, n int) bool {
	for i := range w.partners {
		if w.partners[i].ID == id {
			w.partners[i].UnreadCount = n
			return true
		}
	}
	return false
}

func markRead(senderID int64) Command {
	return Command{Type: models.EventMarkRead, Payload: models.MarkReadPayload{SenderID: senderID}}
}

// State returns the current UI state
func (w *Widget) State() State { return w.state }

// IsOpen reports whether the panel is shown
func (w *Widget) IsOpen() bool { return w.open }

// Variant returns the panel variant
func (w *Widget) Variant() Variant { return w.variant }

// Thread returns the visible conversation
func (w *Widget) Thread() []models.WireMessage {
	return append([]models.WireMessage(nil), w.thread...)
}

// Partners returns the partner list as last reported, nil before the
// first chat_partners_list
func (w *Widget) Partners() []models.ChatPartner {
	if w.partners == nil {
		return nil
	}
	out := make([]models.ChatPartner, len(w.partners))
	copy(out, w.partners)
	return out
}

// Admin returns the admin a resident chats with, if known
func (w *Widget) Admin() (models.Profile, bool) {
	if w.admin == nil {
		return models.Profile{}, false
	}
	return *w.admin, true
}

// Unread returns the unread count for one partner
func (w *Widget) Unread(partnerID int64) int { return w.unread[partnerID] }

// Badge is the total unread count shown on the launcher
func (w *Widget) Badge() int {
	total := 0
	for _, n := range w.unread {
		total += n
	}
	return total
}

// LastError returns the most recent error reported by the gateway
func (w *Widget) LastError() (models.ErrorPayload, bool) {
	if w.lastErr == nil {
		return models.ErrorPayload{}, false
	}
	return *w.lastErr, true
}
