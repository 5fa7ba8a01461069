package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
	"github.com/gorilla/websocket"
)

// Bot is the part of the supervisor the UI drives.
type Bot interface {
	Start(ctx context.Context, filters mission.Filters) error
	Stop(ctx context.Context) error
	State(ctx context.Context) (bot.Context, error)
}

// Missions is the repository surface behind the /api/missions routes.
type Missions interface {
	GetAll(ctx context.Context) (map[string]mission.Mission, error)
	SetDisabled(ctx context.Context, postID string, disabled bool) error
	ResetCleared(ctx context.Context, postID string) error
	ClearAll(ctx context.Context) error
	Shareable(ctx context.Context) (records []mission.Record, skipped int, err error)
	ImportMerge(ctx context.Context, records []mission.Record) (storage.ImportResult, error)
}

type HttpServer struct {
	logger    *slog.Logger
	server    *http.Server
	bot       Bot
	missions  Missions
	defaults  func() mission.Filters
	templates *template.Template
	wsServer  *WebSocketServer

	mu        sync.RWMutex
	publicURL string
	cancel    context.CancelFunc
}

var (
	//go:embed all:templates
	templatesFS embed.FS

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
)

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type    string       `json:"type"`
	Context *bot.Context `json:"context,omitempty"`
	PostID  string       `json:"postId,omitempty"`
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

type WebSocketServer struct {
	logger     *slog.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewWebSocketServer(logger *slog.Logger) *WebSocketServer {
	return &WebSocketServer{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (s *WebSocketServer) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			for client := range s.clients {
				close(client.send)
				delete(s.clients, client)
			}
			return
		case client := <-s.register:
			s.clients[client] = true
		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
		}
	}
}

// Broadcast queues message for every connected client. It gives up once the
// hub has stopped.
func (s *WebSocketServer) Broadcast(message []byte) {
	select {
	case s.broadcast <- message:
	case <-s.done:
	}
}

// HandleWebSocket upgrades the connection. initial, when not nil, is the
// first message the client receives.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", slog.Any("error", err))
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, 256)}
	if initial != nil {
		client.send <- initial
	}
	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go s.writePump(client)
	go s.readPump(client)
}

func (s *WebSocketServer) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.send {
		w, err := client.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *WebSocketServer) readPump(client *Client) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.done:
		}
		client.conn.Close()
	}()

	for {
		_, _, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", slog.Any("error", err))
			}
			break
		}
	}
}

// New builds the status server. defaults supplies the filters used when a
// start request carries none.
func New(logger *slog.Logger, b Bot, missions Missions, defaults func() mission.Filters) (*HttpServer, error) {
	helperFuncs := template.FuncMap{
		"toJSON": func(v interface{}) template.JS {
			b, err := json.Marshal(v)
			if err != nil {
				return template.JS("{}")
			}
			return template.JS(b)
		},
	}
	templates, err := template.New("").Funcs(helperFuncs).ParseFS(templatesFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}

	return &HttpServer{
		logger:    logger,
		bot:       b,
		missions:  missions,
		defaults:  defaults,
		templates: templates,
		wsServer:  NewWebSocketServer(logger),
	}, nil
}

// SetPublicURL records the tunnel address shown on the status page.
func (s *HttpServer) SetPublicURL(url string) {
	s.mu.Lock()
	s.publicURL = url
	s.mu.Unlock()
}

// Handle pushes state broadcasts to websocket clients. Register it with the
// event listener.
func (s *HttpServer) Handle(_ context.Context, e event.Event) error {
	var msg Message
	switch evt := e.(type) {
	case bot.StateChangedEvent:
		c := evt.Context
		msg = Message{Type: evt.Kind(), Context: &c}
	case event.MissionStoredEvent:
		msg = Message{Type: evt.Kind(), PostID: evt.PostID}
	default:
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", msg.Type, err)
	}
	s.wsServer.Broadcast(data)
	return nil
}

func (s *HttpServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.getRoot)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/state", s.getState)
	mux.HandleFunc("/api/start", s.startBot)
	mux.HandleFunc("/api/stop", s.stopBot)
	s.registerMissionRoutes(mux)
	return mux
}

func (s *HttpServer) Listen(port int) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	go s.wsServer.Run(ctx)

	s.logger.Info("Status server listening", slog.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HttpServer) Stop() error {
	s.mu.RLock()
	srv, cancel := s.server, s.cancel
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	err := srv.Shutdown(ctx)
	cancel()
	return err
}

type IndexData struct {
	State     bot.Context
	StateErr  string
	PublicURL string
}

func (s *HttpServer) getRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := IndexData{}
	st, err := s.bot.State(r.Context())
	if err != nil {
		data.StateErr = err.Error()
	}
	data.State = st
	s.mu.RLock()
	data.PublicURL = s.publicURL
	s.mu.RUnlock()

	if err := s.templates.ExecuteTemplate(w, "index.gohtml", data); err != nil {
		s.logger.Error("Failed to render index template", slog.Any("error", err))
	}
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial []byte
	if st, err := s.bot.State(r.Context()); err == nil {
		initial, _ = json.Marshal(Message{Type: bot.StateChanged(st).Kind(), Context: &st})
	}
	s.wsServer.HandleWebSocket(w, r, initial)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *HttpServer) getState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := s.bot.State(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HttpServer) startBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filters := s.defaults()
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &filters); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if len(filters.Stars) == 0 {
		http.Error(w, "at least one star rating is required", http.StatusBadRequest)
		return
	}
	if filters.MinLevel > filters.MaxLevel {
		http.Error(w, "minLevel is above maxLevel", http.StatusBadRequest)
		return
	}

	if err := s.bot.Start(r.Context(), filters); err != nil {
		switch {
		case errors.Is(err, bot.ErrAlreadyRunning), errors.Is(err, storage.ErrSessionLocked):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			s.logger.Error("Failed to start bot", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info("Bot started from status UI", slog.Any("stars", filters.Stars))
	s.getState(w, withMethod(r, http.MethodGet))
}

func (s *HttpServer) stopBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.bot.Stop(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.getState(w, withMethod(r, http.MethodGet))
}

func withMethod(r *http.Request, method string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.Method = method
	return r2
}
