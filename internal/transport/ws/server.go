// Package ws is the realtime transport: one websocket per session, a hello
// handshake that joins or resumes a room membership, then a reader loop that
// validates and forwards intents. The room never touches a connection; it
// only sees the session's outbound channel.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"infinityworld.gg/internal/auth"
	"infinityworld.gg/internal/protocol"
	"infinityworld.gg/internal/world"
	"infinityworld.gg/schemas"
)

const (
	helloDeadline = 5 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
)

type Server struct {
	room   *world.Room
	tokens *auth.Tokens
	log    *log.Logger

	maxQueue int

	upgrader     websocket.Upgrader
	helloSchema  *jsonschema.Schema
	intentSchema *jsonschema.Schema
}

func NewServer(room *world.Room, tokens *auth.Tokens, maxQueue int, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	hello, err := compileSchema("hello.schema.json")
	if err != nil {
		return nil, err
	}
	intent, err := compileSchema("intent.schema.json")
	if err != nil {
		return nil, err
	}
	return &Server{
		room:     room,
		tokens:   tokens,
		log:      logger,
		maxQueue: maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		helloSchema:  hello,
		intentSchema: intent,
	}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemas.FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	return c.Compile(name)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. The room closes out on teardown, which ends
		// the writer; a write failure ends the connection via cancel.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						cancel()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		consented := false
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				// A clean close is the client saying goodbye for real;
				// anything else gets the grace window.
				consented = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
				cancel()
				break
			}
			if ctx.Err() != nil {
				break
			}
			intent, ok := s.decodeIntent(msg)
			if !ok {
				continue
			}
			s.room.Inbox() <- world.IntentEnvelope{SessionID: sessionID, Msg: intent}
		}

		s.room.Leave() <- world.LeaveRequest{SessionID: sessionID, Consented: consented}
	}
}

// decodeIntent schema-validates one inbound frame and decodes it. Frames
// failing validation are dropped; the schema is the contract, not a
// negotiation.
func (s *Server) decodeIntent(msg []byte) (protocol.IntentMsg, bool) {
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return protocol.IntentMsg{}, false
	}
	if err := s.intentSchema.Validate(v); err != nil {
		return protocol.IntentMsg{}, false
	}
	var intent protocol.IntentMsg
	if err := json.Unmarshal(msg, &intent); err != nil {
		return protocol.IntentMsg{}, false
	}
	if intent.ProtocolVersion != "" && intent.ProtocolVersion != protocol.Version {
		return protocol.IntentMsg{}, false
	}
	return intent, true
}

// handshake reads the hello frame and either resumes a gracing session or
// joins the room fresh. Returns the session id and the outbound channel the
// room writes frames to.
func (s *Server) handshake(conn *websocket.Conn) (string, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(helloDeadline))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		s.closePolicy(conn, "malformed hello")
		return "", nil
	}
	if err := s.helloSchema.Validate(v); err != nil {
		s.closePolicy(conn, "hello failed validation")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.closePolicy(conn, "unsupported protocolVersion")
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 || maxQ > s.maxQueue {
		maxQ = s.maxQueue
	}
	out := make(chan []byte, maxQ)

	var resp world.JoinResponse
	if token := strings.TrimSpace(hello.ResumeToken); token != "" {
		pid, sid, err := s.tokens.VerifyResume(token)
		if err != nil {
			s.closePolicy(conn, "invalid resume token")
			return "", nil
		}
		respCh := make(chan world.JoinResponse, 1)
		s.room.Attach() <- world.AttachRequest{
			PlayerID:    pid,
			SessionID:   sid,
			ResumeToken: token,
			Out:         out,
			Resp:        respCh,
		}
		resp = <-respCh
	} else {
		respCh := make(chan world.JoinResponse, 1)
		s.room.Join() <- world.JoinRequest{
			PlayerID: hello.PlayerID,
			Name:     hello.Name,
			Out:      out,
			Resp:     respCh,
		}
		resp = <-respCh
	}
	if resp.Err != nil {
		s.log.Printf("handshake rejected: %v", resp.Err)
		s.closePolicy(conn, protocol.CodeFor(resp.Err))
		return "", nil
	}

	if err := writeJSON(conn, resp.Init); err != nil {
		// The grace window picks the membership up if the client retries;
		// otherwise it expires and tears down.
		s.room.Leave() <- world.LeaveRequest{SessionID: resp.SessionID, Consented: false}
		return "", nil
	}
	return resp.SessionID, out
}

func (s *Server) closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, b)
}
