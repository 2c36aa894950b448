// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/heli_allocator/internal/config"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is sent by browser clients.
type WSMessage struct {
	Action string             `json:"action"` // snapshot, param_set, reload
	Values map[string]float64 `json:"values,omitempty"`
}

// WSResponse is pushed to browser clients.
type WSResponse struct {
	Type    string                     `json:"type"` // outputs, status, ack, error
	Outputs *telemetry.ActuatorOutputs `json:"outputs,omitempty"`
	Status  *telemetry.AllocatorStatus `json:"status,omitempty"`
	Message string                     `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSResponse
}

// ActuatorHub fans allocator telemetry out to HTTP and websocket clients.
type ActuatorHub struct {
	mu          sync.RWMutex
	outputs     telemetry.ActuatorOutputs
	haveOutputs bool
	status      telemetry.AllocatorStatus
	haveStatus  bool
	clients     map[*wsClient]struct{}

	// paramSet forwards parameter changes to the allocator.
	paramSet func(telemetry.ParamSet) error
}

// NewActuatorHub returns a hub. paramSet may be nil, in which case parameter
// requests are rejected.
func NewActuatorHub(paramSet func(telemetry.ParamSet) error) *ActuatorHub {
	return &ActuatorHub{
		clients:  make(map[*wsClient]struct{}),
		paramSet: paramSet,
	}
}

// UpdateOutputs stores o and pushes it to every websocket client.
func (h *ActuatorHub) UpdateOutputs(o telemetry.ActuatorOutputs) {
	h.mu.Lock()
	h.outputs = o
	h.haveOutputs = true
	h.mu.Unlock()
	h.broadcast(WSResponse{Type: "outputs", Outputs: &o})
}

// UpdateStatus stores s and pushes it to every websocket client.
func (h *ActuatorHub) UpdateStatus(s telemetry.AllocatorStatus) {
	h.mu.Lock()
	h.status = s
	h.haveStatus = true
	h.mu.Unlock()
	h.broadcast(WSResponse{Type: "status", Status: &s})
}

func (h *ActuatorHub) broadcast(msg WSResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.trySend(c, msg) // slow clients lose frames
	}
}

// Handler returns the HTTP routes of the hub.
func (h *ActuatorHub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/actuators", h.handleOutputs)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/params", h.handleParams)
	mux.HandleFunc("/ws/actuators", h.handleWS)
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (h *ActuatorHub) handleOutputs(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.haveOutputs {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.outputs)
}

func (h *ActuatorHub) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.haveStatus {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.status)
}

func (h *ActuatorHub) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ps telemetry.ParamSet
	if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.forward(ps); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ActuatorHub) forward(ps telemetry.ParamSet) error {
	if h.paramSet == nil {
		return fmt.Errorf("parameter changes are disabled")
	}
	return h.paramSet(ps)
}

func (h *ActuatorHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan WSResponse, 16)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}()

	h.sendSnapshot(c)

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket read error: %v", err)
			}
			break
		}
		h.handleWSMessage(c, msg)
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	<-done
	conn.Close()
}

func (h *ActuatorHub) sendSnapshot(c *wsClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.haveStatus {
		s := h.status
		h.trySend(c, WSResponse{Type: "status", Status: &s})
	}
	if h.haveOutputs {
		o := h.outputs
		h.trySend(c, WSResponse{Type: "outputs", Outputs: &o})
	}
}

// trySend queues msg for c without blocking. Callers hold h.mu.
func (h *ActuatorHub) trySend(c *wsClient, msg WSResponse) {
	select {
	case c.send <- msg:
	default:
	}
}

func (h *ActuatorHub) reply(c *wsClient, msg WSResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.trySend(c, msg)
}

func (h *ActuatorHub) handleWSMessage(c *wsClient, msg WSMessage) {
	switch msg.Action {
	case "snapshot":
		h.sendSnapshot(c)
	case "param_set", "reload":
		ps := telemetry.ParamSet{Values: msg.Values, Reload: msg.Action == "reload"}
		if err := h.forward(ps); err != nil {
			h.reply(c, WSResponse{Type: "error", Message: err.Error()})
			return
		}
		h.reply(c, WSResponse{Type: "ack", Message: msg.Action})
	default:
		h.reply(c, WSResponse{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)})
	}
}

// RunWeb serves allocator telemetry over HTTP and websockets.
func RunWeb() error {
	cfg := config.Get()
	defer setupLogging(cfg).Close()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	pub := mqttPublisher{client: client}
	hub := NewActuatorHub(func(ps telemetry.ParamSet) error {
		payload, err := json.Marshal(ps)
		if err != nil {
			return err
		}
		return pub.Publish(cfg.TopicParamSet, payload)
	})

	if err := subscribeJSON(client, cfg.TopicActuatorOutputs, "web", hub.UpdateOutputs); err != nil {
		return err
	}
	if err := subscribeJSON(client, cfg.TopicAllocatorStatus, "web", hub.UpdateStatus); err != nil {
		return err
	}

	api := hub.Handler()
	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/ws/", api)
	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
