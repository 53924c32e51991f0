// internal/ws/hub.go

// Package ws carries the real-time surface: one hub per party fans game
// events out to every subscribed connection, and the connection handler
// feeds client commands into the game layer.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leftyshields/better-white-elephant-sub000/internal/game"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/models"
)

// writeTimeout bounds a single event write to one client.
const writeTimeout = 5 * time.Second

// subscriber is one live connection plus its buffered outbound queue. A
// dedicated writer goroutine drains the queue, so event order is preserved
// per client and a stalled socket never blocks the game.
type subscriber struct {
	playerID uuid.UUID
	conn     *websocket.Conn
	send     chan game.GameEvent
}

// writePump drains the subscriber's queue until it closes.
func (sub *subscriber) writePump(log *logrus.Entry) {
	for ev := range sub.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, sub.conn, ev)
		cancel()
		if err != nil {
			log.WithError(err).WithField("player", sub.playerID).Debug("event write failed")
			return
		}
	}
}

// Hub fans events for one party out to its subscribed connections.
type Hub struct {
	partyID uuid.UUID

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber

	log *logrus.Entry
}

// NewHub creates a hub for one party and wires its broadcast callbacks into
// the game.
func NewHub(pg *game.PartyGame) *Hub {
	h := &Hub{
		partyID: pg.ID,
		subs:    make(map[uuid.UUID]*subscriber),
		log:     logrus.WithField("party", pg.ID),
	}
	pg.BroadcastFn = h.Broadcast
	pg.BroadcastToPlayerFn = h.BroadcastToPlayer
	return h
}

// Subscribe registers a connection for a player and starts its writer.
func (h *Hub) Subscribe(playerID uuid.UUID, conn *websocket.Conn) {
	sub := &subscriber{
		playerID: playerID,
		conn:     conn,
		send:     make(chan game.GameEvent, 64),
	}

	h.mu.Lock()
	if old, ok := h.subs[playerID]; ok {
		close(old.send)
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
	h.subs[playerID] = sub
	h.mu.Unlock()

	go sub.writePump(h.log)
}

// Unsubscribe removes a player's connection if it is still the registered
// one.
func (h *Hub) Unsubscribe(playerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if sub, ok := h.subs[playerID]; ok && sub.conn == conn {
		delete(h.subs, playerID)
		close(sub.send)
	}
	h.mu.Unlock()
}

// Broadcast queues an event for every subscribed connection. A subscriber
// whose queue is full is dropped as a slow consumer.
func (h *Hub) Broadcast(ev game.GameEvent) {
	h.mu.Lock()
	for playerID, sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			h.log.WithField("player", playerID).Warn("dropping slow consumer")
			delete(h.subs, playerID)
			close(sub.send)
		}
	}
	h.mu.Unlock()
}

// BroadcastToPlayer queues an event for a single player's connection.
func (h *Hub) BroadcastToPlayer(playerID uuid.UUID, ev game.GameEvent) {
	h.mu.Lock()
	sub, ok := h.subs[playerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	select {
	case sub.send <- ev:
	default:
		h.log.WithField("player", playerID).Warn("dropping slow consumer")
		delete(h.subs, playerID)
		close(sub.send)
	}
	h.mu.Unlock()
}

// Server exposes the HTTP surface: party creation and the per-party
// websocket endpoint.
type Server struct {
	manager *game.Manager

	mu   sync.Mutex
	hubs map[uuid.UUID]*Hub

	botDelay time.Duration
	log      *logrus.Entry
}

// NewServer creates the websocket server over the party registry.
func NewServer(manager *game.Manager, botDelay time.Duration) *Server {
	return &Server{
		manager:  manager,
		hubs:     make(map[uuid.UUID]*Hub),
		botDelay: botDelay,
		log:      logrus.WithField("component", "ws"),
	}
}

// Routes mounts the server's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/party", s.handleCreateParty)
	mux.HandleFunc("/party/ws", s.handleWS)
}

// createPartyRequest is the JSON body for POST /party.
type createPartyRequest struct {
	Rules game.PartyRules `json:"rules"`
	Gifts []string        `json:"gifts"`
	Bots  []string        `json:"bots"`
}

type createPartyResponse struct {
	PartyID uuid.UUID `json:"partyId"`
}

func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	pg := s.manager.CreateParty(req.Rules)
	pg.BotDelay = s.botDelay
	pg.OnGameEnd = func(partyID uuid.UUID, _ map[uuid.UUID]uuid.UUID) {
		// Keep the finished party around briefly so late clients can read
		// the final state, then drop it.
		time.AfterFunc(time.Minute, func() {
			s.dropParty(partyID)
		})
	}

	hub := NewHub(pg)
	s.mu.Lock()
	s.hubs[pg.ID] = hub
	s.mu.Unlock()

	for _, label := range req.Gifts {
		if _, err := pg.AddGift(label); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	for _, name := range req.Bots {
		if _, err := pg.AddBot(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.log.WithField("party", pg.ID).Info("party created")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(createPartyResponse{PartyID: pg.ID})
}

func (s *Server) dropParty(partyID uuid.UUID) {
	s.manager.Remove(partyID)
	s.mu.Lock()
	delete(s.hubs, partyID)
	s.mu.Unlock()
}

// clientMessage is one inbound frame: either a game action or a lifecycle
// command ("start").
type clientMessage struct {
	Type    string                 `json:"type"`
	Action  string                 `json:"action,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// handleWS upgrades the connection, joins the player to the party, and
// pumps inbound commands until the connection drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	partyID, err := uuid.Parse(q.Get("party"))
	if err != nil {
		http.Error(w, "missing or invalid party id", http.StatusBadRequest)
		return
	}
	name := q.Get("name")
	if name == "" {
		http.Error(w, "missing player name", http.StatusBadRequest)
		return
	}
	playerID, err := uuid.Parse(q.Get("player"))
	if err != nil {
		playerID, _ = uuid.NewRandom()
	}

	pg, ok := s.manager.Get(partyID)
	if !ok {
		http.Error(w, "party not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	hub := s.hubs[partyID]
	s.mu.Unlock()
	if hub == nil {
		http.Error(w, "party not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.WithError(err).Debug("websocket accept failed")
		return
	}

	player := &models.Player{ID: playerID, Name: name, Connected: true, Conn: conn}
	if err := pg.AddPlayer(player); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	hub.Subscribe(playerID, conn)

	// Send the joiner the current state straight away.
	pg.Mu.Lock()
	state := pg.StateView()
	pg.Mu.Unlock()
	hub.BroadcastToPlayer(playerID, game.GameEvent{Type: game.EventGameUpdated, State: &state})

	s.readLoop(r.Context(), pg, hub, playerID, conn)
}

// readLoop pumps client frames until the connection closes.
func (s *Server) readLoop(ctx context.Context, pg *game.PartyGame, hub *Hub, playerID uuid.UUID, conn *websocket.Conn) {
	defer func() {
		hub.Unsubscribe(playerID, conn)
		pg.HandleDisconnect(playerID)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			if err := pg.Start(); err != nil {
				hub.BroadcastToPlayer(playerID, game.GameEvent{
					Type:    game.EventActionRejected,
					Action:  "start",
					Payload: map[string]interface{}{"reason": err.Error()},
				})
			}
		case "action":
			pg.HandlePlayerAction(playerID, models.GameAction{
				ActionType: msg.Action,
				Payload:    msg.Payload,
			})
		default:
			s.log.WithFields(logrus.Fields{
				"player": playerID,
				"type":   msg.Type,
			}).Debug("unknown message type")
		}
	}
}
