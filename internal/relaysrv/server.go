package relaysrv

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/rank"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Options configure a Server.
type Options struct {
	// Tokens maps user ids to their bearer token. When nil any non-empty
	// token is accepted.
	Tokens map[string]string
	// RequestsPerSecond limits REST calls per user. Zero disables limiting.
	RequestsPerSecond float64
}

// Server serves the relay WebSocket and the REST API.
type Server struct {
	hub    *Hub
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a server around hub.
func NewServer(hub *Hub, opts Options, logger *zap.Logger) *Server {
	return &Server{
		hub:      hub,
		opts:     opts,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router returns the HTTP handler of the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.health)
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Get("/messages/{id}/history", s.history)
		r.Get("/conversations/{id}/messages/search", s.search)
		r.Post("/{type}/{id}/{kind}", s.toggle)
		r.Delete("/{type}/{id}/{kind}", s.toggle)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

// credentials reads the bearer token and user id from headers, falling back
// to the token and userId query parameters.
func credentials(r *http.Request) (token, userID string) {
	token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID = r.Header.Get("X-User-ID")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	return token, userID
}

func (s *Server) allowed(token, userID string) bool {
	if token == "" || userID == "" {
		return false
	}
	if s.opts.Tokens == nil {
		return true
	}
	want, ok := s.opts.Tokens[userID]
	return ok && want == token
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, userID := credentials(r)
		if !s.allowed(token, userID) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r.Header.Set("X-User-ID", userID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[userID]
	if !ok {
		burst := max(1, int(s.opts.RequestsPerSecond*2))
		l = rate.NewLimiter(rate.Limit(s.opts.RequestsPerSecond), burst)
		s.limiters[userID] = l
	}
	return l
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.RequestsPerSecond > 0 && !s.limiter(r.Header.Get("X-User-ID")).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.hub.Connections()})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token, userID := credentials(r)
	if !s.allowed(token, userID) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := s.hub.newPeer(conn, userID)
	s.hub.register(p)
	go s.writePump(p)
	s.readPump(p)
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.hub.unregister(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(readLimit)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", zap.String("user_id", p.userID), zap.Error(err))
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.hub.handleFrame(p, data)
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	versions, ok := s.hub.History(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("q")
	msgs := rank.SearchLocal(s.hub.Messages(chi.URLParam(r, "id")), keyword, rank.Filters{
		SenderID: q.Get("senderId"),
		Type:     msgstore.MessageType(q.Get("type")),
	}, time.Now())

	limit, _ := strconv.Atoi(q.Get("limit"))
	out := make([]protocol.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if keyword != "" {
			m.RelevanceScore = 0.5 * float64(len(rank.MatchedFields(m, keyword)))
		}
		out = append(out, protocol.FromStore(m))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	targetType, err := optimistic.ParseTargetType(strings.TrimSuffix(chi.URLParam(r, "type"), "s"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	kind, err := optimistic.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	s.hub.setToggle(toggleKey(r.Header.Get("X-User-ID"), string(targetType), id, string(kind)), r.Method == http.MethodPost)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
