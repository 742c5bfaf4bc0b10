package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"communitychat/models"
)

// Page limits a conversation fetch. The zero Page returns the whole
// conversation; AfterID resumes after a previously seen message id.
type Page struct {
	AfterID int64
	Limit   int
}

// PartnerSummary is one counterpart of a user with the raw unread count
type PartnerSummary struct {
	PartnerID     int64
	Unread        int
	LastMessageID int64
}

const messageColumns = "id, sender_id, receiver_id, body, created_at, read_at"

// Append stores a new unread message. It is a single INSERT, so the
// message is either fully stored or not at all.
func (s *Store) Append(ctx context.Context, senderID, receiverID int64, body string) (*models.Message, error) {
	if senderID <= 0 || receiverID <= 0 || senderID == receiverID {
		return nil, ErrInvalidParticipant
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	createdAt := s.stamp()
	if !createdAt.After(s.lastStamp) {
		createdAt = s.lastStamp.Add(time.Microsecond)
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  createdAt,
	}
	err := s.db.QueryRowContext(ctx, s.q(
		"INSERT INTO messages (sender_id, receiver_id, body, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		senderID, receiverID, body, createdAt,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.lastStamp = createdAt
	return msg, nil
}

// FetchConversation returns the messages exchanged between a and b in
// either direction, oldest first.
func (s *Store) FetchConversation(ctx context.Context, a, b int64, page Page) ([]models.Message, error) {
	query := "SELECT " + messageColumns + ` FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`
	args := []interface{}{a, b, b, a}
	if page.AfterID > 0 {
		query += " AND id > ?"
		args = append(args, page.AfterID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	if page.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, page.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// MarkRead marks every unread message from sender to receiver as read and
// returns how many changed. Zero is not an error.
func (s *Store) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q(
		"UPDATE messages SET read_at = ? WHERE receiver_id = ? AND sender_id = ? AND read_at IS NULL"),
		s.stamp(), receiverID, senderID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return result.RowsAffected()
}

// UnreadCount counts unread messages from sender to receiver
func (s *Store) UnreadCount(ctx context.Context, receiverID, senderID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND sender_id = ? AND read_at IS NULL"),
		receiverID, senderID,
	).Scan(&n)
	return n, err
}

// PartnerSummaries lists every user that exchanged at least one message
// with userID, most recent conversation first.
func (s *Store) PartnerSummaries(ctx context.Context, userID int64) ([]PartnerSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT partner_id,
		       SUM(CASE WHEN receiver_id = ? AND read_at IS NULL THEN 1 ELSE 0 END),
		       MAX(id)
		FROM (
			SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id,
			       receiver_id, read_at, id
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
		) p
		GROUP BY partner_id
		ORDER BY MAX(id) DESC, partner_id ASC`),
		userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query partners: %w", err)
	}
	defer rows.Close()

	summaries := []PartnerSummary{}
	for rows.Next() {
		var ps PartnerSummary
		var unread int64
		if err := rows.Scan(&ps.PartnerID, &unread, &ps.LastMessageID); err != nil {
			return nil, err
		}
		ps.Unread = int(unread)
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var readAt sql.NullTime
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt, &readAt); err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if readAt.Valid {
		t := readAt.Time.UTC()
		msg.ReadAt = &t
		msg.Read = true
	}
	return msg, nil
}
