package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Session drives one Widget over one gateway socket
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu sync.Mutex // guards w
	w  *Widget

	writeMu sync.Mutex
	changed chan struct{}
}

// Dial opens the socket for w and sends the discovery command. The token
// travels in the Authorization header.
func Dial(ctx context.Context, url, token string, w *Widget, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial chat gateway: unauthorized")
		}
		return nil, fmt.Errorf("dial chat gateway: %w", err)
	}

	s := &Session{
		conn:    conn,
		log:     log.With("user_id", w.self, "variant", w.variant.String()),
		w:       w,
		changed: make(chan struct{}, 1),
	}
	if err := s.write(w.Mount()); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Run reads events until the socket closes or ctx is done
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		cmds, err := s.w.Apply(ev)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("bad event from gateway", "type", ev.Type, "err", err)
			continue
		}
		s.notify()
		if err := s.write(cmds); err != nil {
			return err
		}
	}
}

// Do runs fn against the widget and sends the commands it returns
func (s *Session) Do(fn func(w *Widget) ([]Command, error)) error {
	s.mu.Lock()
	cmds, err := fn(s.w)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return s.write(cmds)
}

// Open, Select and Send are shorthands for Do
func (s *Session) Open() error {
	return s.Do(func(w *Widget) ([]Command, error) { return w.Open(), nil })
}

func (s *Session) Select(partnerID int64) error {
	return s.Do(func(w *Widget) ([]Command, error) { return w.Select(partnerID), nil })
}

func (s *Session) Send(body string) error {
	return s.Do(func(w *Widget) ([]Command, error) { return w.Send(body) })
}

// View gives read access to the widget
func (s *Session) View(fn func(w *Widget)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.w)
}

// Changed is signalled after every state change. Signals coalesce.
func (s *Session) Changed() <-chan struct{} {
	return s.changed
}

// Close says goodbye and closes the socket
func (s *Session) Close() error {
	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return errors.Join(err, s.conn.Close())
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) write(cmds []Command) error {
	if len(cmds) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, cmd := range cmds {
		data, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send %s: %w", cmd.Type, err)
		}
	}
	return nil
}
