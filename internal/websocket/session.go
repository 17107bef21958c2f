package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tunechat/internal/config"
	"tunechat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Application close codes, outside the range reserved by RFC 6455.
const (
	CloseAuthRequired = 4001
	CloseAuthFailed   = 4003
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MessageSaver persists one chat message.
type MessageSaver interface {
	SaveMessage(ctx context.Context, sender, recipient uuid.UUID, body string) (*models.ChatMessage, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Registry *Registry
	Fanout   Fanout
	Store    MessageSaver
	Config   config.WebSocketConfig
	Logger   *zap.Logger
	Metrics  *Metrics
}

// Session is one live connection. Its state only moves forward:
// unauthenticated, authenticated, joined, closed.
type Session struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	deps  Deps
	state atomic.Int32

	// Set once by Authenticate and Join, read-only afterwards.
	user *models.User
	peer *models.User
	room models.RoomKey

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewSession(conn *websocket.Conn, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, deps.Config.SendBuffer),
		done:   make(chan struct{}),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		logger: deps.Logger.With(zap.String("session_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Room() models.RoomKey { return s.room }

func (s *Session) User() *models.User { return s.user }

func (s *Session) transition(from, to State) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s (currently %s)", ErrInvalidTransition, from, to, s.State())
	}
	return nil
}

// Authenticate records the verified identity of the connecting user.
func (s *Session) Authenticate(user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidTransition)
	}
	if err := s.transition(StateUnauthenticated, StateAuthenticated); err != nil {
		return err
	}
	s.user = user
	s.logger = s.logger.With(zap.String("user_id", user.ID.String()))
	return nil
}

// Join derives the room for the conversation with peer, registers the
// session there and queues the success acknowledgment.
func (s *Session) Join(peer *models.User) error {
	if peer == nil || s.user == nil {
		return fmt.Errorf("%w: join needs an authenticated user and a peer", ErrInvalidTransition)
	}
	if s.State() != StateAuthenticated {
		return fmt.Errorf("%w: join from %s", ErrInvalidTransition, s.State())
	}

	s.peer = peer
	s.room = models.NewRoomKey(s.user.ID, peer.ID)
	s.logger = s.logger.With(zap.String("room", s.room.String()))

	// The ack is queued before registration so it precedes any room traffic.
	if err := s.Deliver(models.AuthenticatedEvent()); err != nil {
		return err
	}

	s.deps.Registry.Join(s.room, s)
	if err := s.transition(StateAuthenticated, StateJoined); err != nil {
		// Closed concurrently; undo the registration.
		s.deps.Registry.Leave(s.room, s)
		return err
	}
	s.deps.Metrics.incSession()
	s.logger.Info("session joined room")
	return nil
}

// Deliver queues ev for the write pump without blocking.
func (s *Session) Deliver(ev models.Event) error {
	frame, err := ev.Frame()
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Reject closes a session that never joined with an application close code.
func (s *Session) Reject(code int, reason string) {
	s.closeWith(code, reason)
}

// Disconnect closes a joined session with an explicit close code.
func (s *Session) Disconnect(code int, reason string) {
	s.closeWith(code, reason)
}

// Close ends the session. It is safe to call any number of times from any
// goroutine; cleanup runs once.
func (s *Session) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		close(s.done)
		s.cancel()

		if prev == StateJoined {
			s.deps.Registry.Leave(s.room, s)
			s.deps.Metrics.decSession()
			s.logger.Info("session left room")
		}

		deadline := time.Now().Add(s.deps.Config.WriteWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

// Run starts the pumps and blocks until the connection ends.
func (s *Session) Run() {
	go s.WritePump()
	s.ReadPump()
}

// ReadPump handles inbound frames one at a time, in arrival order.
func (s *Session) ReadPump() {
	defer s.Close()

	pongWait := s.deps.Config.PongWait
	s.conn.SetReadLimit(s.deps.Config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		s.HandleFrame(data)
	}
}

// WritePump is the only writer of data frames on the connection.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.deps.Config.PingPeriod())
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	writeWait := s.deps.Config.WriteWait
	for {
		select {
		case <-s.done:
			return

		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleFrame processes one inbound frame. Every failure is answered with
// an error frame to this session only; the connection stays open.
func (s *Session) HandleFrame(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling frame", zap.Any("panic", r))
			s.fail("panic", fmt.Sprintf("Error processing message: %v", r))
		}
	}()

	in, err := models.ParseInbound(data)
	switch {
	case errors.Is(err, models.ErrMalformedFrame):
		s.fail("malformed", "Invalid JSON format")
		return
	case err != nil:
		s.fail("invalid", fmt.Sprintf("Error processing message: %v", err))
		return
	}

	switch in.Kind {
	case models.InboundPing:
		s.reply(models.PongEvent())
	case models.InboundChat:
		if err := s.handleChat(in.Message); err != nil {
			s.logger.Warn("chat message failed", zap.Error(err))
			s.fail("processing", fmt.Sprintf("Error processing message: %v", err))
		}
	case models.InboundIgnored:
	}
}

func (s *Session) handleChat(body string) error {
	if s.State() != StateJoined {
		return ErrSessionClosed
	}
	if _, err := s.deps.Store.SaveMessage(s.ctx, s.user.ID, s.peer.ID, body); err != nil {
		return err
	}
	s.deps.Metrics.recordMessage()

	// No local echo: the sender sees its message when the room fan-out
	// reaches it, same as the peer.
	return s.deps.Fanout.Publish(s.ctx, s.room, models.ChatEvent(body, s.user.ID, s.peer.ID))
}

func (s *Session) fail(reason, message string) {
	s.deps.Metrics.recordFrameError(reason)
	s.reply(models.ErrorEvent(message))
}

func (s *Session) reply(ev models.Event) {
	if err := s.Deliver(ev); err != nil {
		s.logger.Debug("reply dropped", zap.Stringer("kind", ev.Kind), zap.Error(err))
	}
}
