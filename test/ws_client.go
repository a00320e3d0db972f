package main

import (
	"flag"
	"log"
	"time"

	"github.com/EternisAI/silo-hub/internal/protocol"
	"github.com/gorilla/websocket"
)

var (
	address = flag.String("address", "ws://localhost:8080/ws", "Hub websocket URL")
	agentID = flag.String("agent-id", "", "Agent ID to register as (empty registers as a dashboard)")
	to      = flag.String("to", "", "Send one message to this agent ID, or \"broadcast\" (requires -agent-id)")
	content = flag.String("content", "hello from ws_client", "Message content")
	wait    = flag.Duration("wait", 10*time.Second, "How long to print incoming envelopes")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to hub at %s", *address)

	conn, _, err := websocket.DefaultDialer.Dial(*address, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	register := protocol.RegisterPayload{AgentID: *agentID}
	if *agentID == "" {
		register.ClientType = protocol.ClientTypeDashboard
	}
	if err := conn.WriteJSON(protocol.MustNew(protocol.TypeRegister, register)); err != nil {
		log.Fatalf("Failed to send register: %v", err)
	}
	log.Printf("Sent register agent_id=%q client_type=%q", register.AgentID, register.ClientType)

	if *to != "" {
		msg := protocol.MustNew(protocol.TypeMessage, protocol.SendPayload{To: *to, Content: *content})
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("Failed to send message: %v", err)
		}
		log.Printf("Sent message to=%s", *to)
	}

	done := make(chan struct{})
	go receiveEnvelopes(conn, done)

	select {
	case <-done:
	case <-time.After(*wait):
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.Println("Test client finished")
}

func receiveEnvelopes(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Receive error: %v", err)
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			log.Printf("Malformed envelope: %v", err)
			continue
		}

		switch env.Type {
		case protocol.TypeHeartbeat:
			if env.HeartbeatKind() == protocol.HeartbeatPing {
				if err := conn.WriteJSON(protocol.Pong()); err != nil {
					log.Printf("Failed to send pong: %v", err)
					return
				}
				log.Println("Answered ping")
			}
		default:
			log.Printf("Received type=%s payload=%s", env.Type, string(env.Payload))
		}
	}
}
