package server

import (
	"encoding/json"
	"net/http"

	"card-market-tracker/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *MetricsServer) handleWebsockets() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.stateMutex.Lock()
			s.connections = len(s.clients)
			initial := filteredState(s.latestState, nil, "INITIAL")
			s.stateMutex.Unlock()
			client.send <- initial

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				s.dropClient(client)
			}

		case client := <-s.resync:
			if _, ok := s.clients[client]; !ok {
				continue
			}
			s.stateMutex.RLock()
			response := filteredState(s.latestState, client.subscription(), "INITIAL")
			s.stateMutex.RUnlock()
			select {
			case client.send <- response:
			default:
				s.dropClient(client)
			}

		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- filteredState(message, client.subscription(), "UPDATE"):
				default:
					// slow consumer
					s.dropClient(client)
				}
			}

		case <-s.done:
			for client := range s.clients {
				s.dropClient(client)
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) dropClient(client *Client) {
	delete(s.clients, client)
	close(client.send)
	s.stateMutex.Lock()
	s.connections = len(s.clients)
	s.stateMutex.Unlock()
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// UpdateAllDatas replaces the cached set without notifying clients.
func (s *MetricsServer) UpdateAllDatas(data models.MLatestData) {
	state := copyState(&data)
	s.stateMutex.Lock()
	s.latestState = state
	s.stateMutex.Unlock()
}

// -----------------------------------------------------------------------------

// Broadcast caches the new set and queues it for every websocket client.
func (s *MetricsServer) Broadcast(payload models.MLatestData) {
	state := copyState(&payload)
	state.Type = "UPDATE"

	s.stateMutex.Lock()
	s.latestState = state
	s.stateMutex.Unlock()

	select {
	case s.broadcast <- state:
	case <-s.done:
	default:
		s.Logger.Warning("Broadcast queue full, dropping push for %s", state.Date)
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     wsOrigin,
}

// wsOrigin applies the dashboard origin rule to upgrades. Clients that send
// no Origin (CLI tools, scripts) are not browsers and pass.
func wsOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || localOrigin(origin)
}

// -----------------------------------------------------------------------------

func (s *MetricsServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		send: make(chan *models.MLatestData, 16),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (s *MetricsServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "subscribe":
		client.setSubscription(entitySet(cmd.Entities))
	case "unsubscribe":
		client.setSubscription(nil)
	default:
		return
	}

	select {
	case s.resync <- client:
	case <-s.done:
	}
}
