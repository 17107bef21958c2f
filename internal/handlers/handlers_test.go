package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tunechat/internal/auth"
	"tunechat/internal/config"
	"tunechat/internal/database"
	"tunechat/internal/mocks"
	"tunechat/internal/models"
	"tunechat/internal/services"
	ws "tunechat/internal/websocket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	srv      *httptest.Server
	db       *mocks.MockDatabase
	auth     *auth.Service
	registry *ws.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := mocks.NewMockDatabase(ctrl)

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.WebSocket.PongWait = 5 * time.Second
	cfg.WebSocket.WriteWait = time.Second

	authService := auth.NewService(db, &cfg)
	chatService := services.NewChatService(db)
	registry := ws.NewRegistry(zap.NewNop(), nil)
	deps := ws.Deps{
		Registry: registry,
		Fanout:   ws.NewLocalFanout(registry),
		Config:   cfg.WebSocket,
		Logger:   zap.NewNop(),
	}

	router := NewRouter(Routes{
		Auth:      NewAuthHandlers(authService),
		Chat:      NewChatHandlers(chatService, authService),
		WebSocket: NewWebSocketHandlers(authService, chatService, deps),
		DB:        db,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: db, auth: authService, registry: registry}
}

func (e *testEnv) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.New(), Username: name, IsActive: true}
	e.db.EXPECT().GetUserByID(gomock.Any(), u.ID).Return(u, nil).AnyTimes()
	return u
}

func (e *testEnv) token(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := e.auth.IssueToken(u)
	require.NoError(t, err)
	return token
}

func (e *testEnv) wsURL(peer string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/chat/" + peer + "/"
}

func (e *testEnv) dial(t *testing.T, peer string, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := e.wsURL(peer)
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (e *testEnv) join(t *testing.T, me, peer *models.User) *websocket.Conn {
	t.Helper()
	conn, _, err := e.dial(t, peer.ID.String(), e.token(t, me))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"type": "authentication_success"}, readFrame(t, conn))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// expectSilence asserts no frame arrives within a short window. The read
// deadline leaves conn unusable, so call it last.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no frame, got %q (%v)", data, err)
}

func closeCode(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	return closeErr
}

func TestWebSocket_Without_Token_Is_Auth_Required(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := env.dial(t, uuid.NewString(), "")
	require.NoError(t, err)

	require.Equal(t, ws.CloseAuthRequired, closeCode(t, conn).Code)
}

func TestWebSocket_Bad_Token_Is_Auth_Failed(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := env.dial(t, uuid.NewString(), "garbage")
	require.NoError(t, err)

	require.Equal(t, ws.CloseAuthFailed, closeCode(t, conn).Code)
	require.Zero(t, env.registry.Rooms())
}

func TestWebSocket_Bearer_Header(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	header := http.Header{"Authorization": []string{"Bearer " + env.token(t, alice)}}
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(bob.ID.String()), header)
	req.NoError(err)
	defer conn.Close()

	req.Equal(map[string]string{"type": "authentication_success"}, readFrame(t, conn))
}

func TestWebSocket_Unknown_Peer(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	ghost := uuid.New()
	env.db.EXPECT().GetUserByID(gomock.Any(), ghost).Return(nil, database.ErrNotFound)

	conn, _, err := env.dial(t, ghost.String(), env.token(t, alice))
	req.NoError(err)

	closeErr := closeCode(t, conn)
	req.Equal(ws.CloseAuthFailed, closeErr.Code)
	req.Equal("User not found", closeErr.Text)
	req.Zero(env.registry.Rooms())
}

func TestWebSocket_Inactive_User(t *testing.T) {
	env := newTestEnv(t)
	banned := &models.User{ID: uuid.New(), Username: "banned", IsActive: false}
	env.db.EXPECT().GetUserByID(gomock.Any(), banned.ID).Return(banned, nil)

	conn, _, err := env.dial(t, uuid.NewString(), env.token(t, banned))
	require.NoError(t, err)

	require.Equal(t, ws.CloseAuthFailed, closeCode(t, conn).Code)
}

func TestWebSocket_Non_UUID_Peer_Is_Not_Found(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := env.dial(t, "not-a-uuid", "whatever")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_Ping_Does_Not_Persist(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	room := models.NewRoomKey(alice.ID, bob.ID)

	conn := env.join(t, alice, bob)
	peer := env.join(t, bob, alice)
	req.Eventually(func() bool { return env.registry.Count(room) == 2 }, time.Second, 10*time.Millisecond)

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	req.Equal(map[string]string{"type": "pong"}, readFrame(t, conn))

	// The mock fails the test on any AppendMessage; bob sees nothing
	expectSilence(t, peer)
}

func TestWebSocket_Message_Fans_Out_To_Room(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	room := models.NewRoomKey(alice.ID, bob.ID)

	// Given alice and bob are both connected to their conversation
	connA := env.join(t, alice, bob)
	connB := env.join(t, bob, alice)
	req.Eventually(func() bool { return env.registry.Count(room) == 2 }, time.Second, 10*time.Millisecond)

	// Then the message is stored once
	u1, u2 := models.OrderedPair(alice.ID, bob.ID)
	env.db.EXPECT().
		AppendMessage(gomock.Any(), alice.ID, bob.ID, "hello").
		Return(&models.ChatMessage{ID: uuid.New(), User1: u1, User2: u2, Message: "hello"}, nil).
		Times(1)

	// When alice sends a message
	req.NoError(connA.WriteMessage(websocket.TextMessage, []byte(`{"message":"hello"}`)))

	// Then both connections observe the same frame, sender included
	want := map[string]string{"message": "hello", "sender": alice.ID.String(), "recipient": bob.ID.String()}
	req.Equal(want, readFrame(t, connA))
	req.Equal(want, readFrame(t, connB))

	// And exactly once
	expectSilence(t, connA)
	expectSilence(t, connB)
}

func TestWebSocket_Malformed_Frame_Then_Ping(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	conn := env.join(t, alice, bob)
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	req.Equal(map[string]string{"type": "error", "message": "Invalid JSON format"}, readFrame(t, conn))

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	req.Equal(map[string]string{"type": "pong"}, readFrame(t, conn))

	// A valid message after the bad frame is still stored and delivered
	u1, u2 := models.OrderedPair(alice.ID, bob.ID)
	env.db.EXPECT().
		AppendMessage(gomock.Any(), alice.ID, bob.ID, "hello").
		Return(&models.ChatMessage{ID: uuid.New(), User1: u1, User2: u2, Message: "hello"}, nil).
		Times(1)

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"hello"}`)))
	req.Equal(map[string]string{"message": "hello", "sender": alice.ID.String(), "recipient": bob.ID.String()}, readFrame(t, conn))
}

func TestWebSocket_Null_Message_Is_Not_Stored(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	conn := env.join(t, alice, bob)
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"message":null}`)))

	frame := readFrame(t, conn)
	req.Equal("error", frame["type"])
	req.True(strings.HasPrefix(frame["message"], "Error processing message:"))
	expectSilence(t, conn)
}

func TestWebSocket_Disconnect_Empties_Room(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	room := models.NewRoomKey(alice.ID, bob.ID)

	conn := env.join(t, alice, bob)
	req.Eventually(func() bool { return env.registry.Count(room) == 1 }, time.Second, 10*time.Millisecond)

	req.NoError(conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	req.Eventually(func() bool { return env.registry.Count(room) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	r, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("should return the user and an access token", func(t *testing.T) {
		req := require.New(t)
		alice := &models.User{ID: uuid.New(), Username: "alice", PasswordHash: string(hash), IsActive: true}
		env.db.EXPECT().GetUserByUsername(gomock.Any(), "alice").Return(alice, nil)

		resp := doRequest(t, http.MethodPost, env.srv.URL+"/auth/login/", "", `{"username":"alice","password":"s3cret"}`)
		req.Equal(http.StatusOK, resp.StatusCode)

		var body models.LoginResponse
		req.NoError(json.NewDecoder(resp.Body).Decode(&body))
		req.Equal(alice.ID, body.User.ID)
		req.NotEmpty(body.Access)

		claims, err := env.auth.ValidateToken(body.Access)
		req.NoError(err)
		req.Equal(alice.ID.String(), claims.UserID)
	})

	t.Run("should refuse a wrong password", func(t *testing.T) {
		alice := &models.User{ID: uuid.New(), Username: "alice", PasswordHash: string(hash), IsActive: true}
		env.db.EXPECT().GetUserByUsername(gomock.Any(), "alice").Return(alice, nil)

		resp := doRequest(t, http.MethodPost, env.srv.URL+"/auth/login/", "", `{"username":"alice","password":"nope"}`)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should reject a body without password", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, env.srv.URL+"/auth/login/", "", `{"username":"alice"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestChats_Require_Authentication(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/chats/", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, env.srv.URL+"/chats/", "garbage", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChats_List_Partners(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := &models.Partner{ID: uuid.New(), Username: "bob"}
	env.db.EXPECT().ListPartners(gomock.Any(), alice.ID).Return([]*models.Partner{bob}, nil)

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/chats/", env.token(t, alice), "")
	req.Equal(http.StatusOK, resp.StatusCode)

	var partners []models.Partner
	req.NoError(json.NewDecoder(resp.Body).Decode(&partners))
	req.Equal([]models.Partner{*bob}, partners)
}

func TestChats_Messages(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	url := env.srv.URL + "/chats/" + bob.ID.String() + "/messages/"
	u1, u2 := models.OrderedPair(alice.ID, bob.ID)

	t.Run("should list the conversation", func(t *testing.T) {
		req := require.New(t)
		history := []*models.ChatMessage{
			{ID: uuid.New(), User1: u1, User2: u2, Message: "first"},
			{ID: uuid.New(), User1: u1, User2: u2, Message: "second"},
		}
		env.db.EXPECT().ListConversation(gomock.Any(), alice.ID, bob.ID).Return(history, nil)

		resp := doRequest(t, http.MethodGet, url, env.token(t, alice), "")
		req.Equal(http.StatusOK, resp.StatusCode)

		var got []models.ChatMessage
		req.NoError(json.NewDecoder(resp.Body).Decode(&got))
		req.Len(got, 2)
		req.Equal("first", got[0].Message)
		req.Equal("second", got[1].Message)
	})

	t.Run("should post a message", func(t *testing.T) {
		req := require.New(t)
		env.db.EXPECT().AppendMessage(gomock.Any(), alice.ID, bob.ID, "over rest").
			Return(&models.ChatMessage{ID: uuid.New(), User1: u1, User2: u2, Message: "over rest"}, nil)

		resp := doRequest(t, http.MethodPost, url, env.token(t, alice), `{"message":"over rest"}`)
		req.Equal(http.StatusCreated, resp.StatusCode)

		var got models.ChatMessage
		req.NoError(json.NewDecoder(resp.Body).Decode(&got))
		req.Equal(u1, got.User1)
		req.Equal(u2, got.User2)
	})

	t.Run("should reject a blank message", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, url, env.token(t, alice), `{"message":"   "}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = doRequest(t, http.MethodPost, url, env.token(t, alice), `{}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should 404 on an unknown peer", func(t *testing.T) {
		ghost := uuid.New()
		env.db.EXPECT().GetUserByID(gomock.Any(), ghost).Return(nil, database.ErrNotFound)

		resp := doRequest(t, http.MethodGet, env.srv.URL+"/chats/"+ghost.String()+"/messages/", env.token(t, alice), "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("should 404 on a malformed peer id", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, env.srv.URL+"/chats/nope/messages/", env.token(t, alice), "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	env.db.EXPECT().Ping(gomock.Any()).Return(nil)

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
