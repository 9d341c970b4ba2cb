package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"bilregistret/internal/engine"
	"bilregistret/internal/errors"
	"bilregistret/internal/viewmodel"
)

// lookupTimeout bounds a one-shot lookup
const lookupTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is sent to websocket clients
type StreamMessage struct {
	Type     string               `json:"type"`
	Data     *viewmodel.ViewModel `json:"data,omitempty"`
	Error    *ErrorResponse       `json:"error,omitempty"`
	Redirect string               `json:"redirect,omitempty"`
}

// ClientMessage is received from websocket clients:
//
//	{"type":"plate","plate":"ABC123"}  switch plate
//	{"type":"image-failed"}            the display image did not load
type ClientMessage struct {
	Type  string `json:"type"`
	Plate string `json:"plate,omitempty"`
}

// GET /vehicles/:plate[?refresh=true]
func (s *Server) handleLookup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
	defer cancel()

	plate := c.Param("plate")
	lookup := s.engine.Lookup
	if c.Query("refresh") == "true" {
		lookup = s.engine.Refresh
	}

	vm, err := lookup(ctx, plate)
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, vm)
}

// writeLookupError answers with the mapped status. The first unauthorized
// answer of a burst carries the login redirect.
func (s *Server) writeLookupError(c *gin.Context, err error) {
	resp := NewErrorResponse(err)
	if errors.Is(err, errors.Unauthorized) && s.gate.Trigger("lookup "+c.Param("plate")) {
		resp.Redirect = s.gate.LoginPath()
	}
	c.JSON(StatusFor(err), resp)
}

// GET /vehicles/:plate/stream upgrades to a websocket and pushes every
// snapshot until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	obs, err := s.engine.Observe(ctx, c.Param("plate"))
	if err != nil {
		resp := NewErrorResponse(err)
		_ = ws.WriteJSON(StreamMessage{Type: "error", Error: &resp})
		return
	}
	defer obs.Close()

	logger := s.logger.With(map[string]interface{}{
		"observer":  obs.ID(),
		"requestID": GetRequestID(c),
	})
	logger.Debug("Stream opened", nil)

	// the reader only reports problems; all writes happen below
	problems := make(chan ErrorResponse, 4)
	go func() {
		defer cancel()
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if resp, ok := s.handleClientMessage(obs, payload); !ok {
				select {
				case problems <- resp:
				default:
				}
			}
		}
	}()

	for {
		select {
		case vm, ok := <-obs.Updates():
			if !ok {
				return
			}
			msg := StreamMessage{Type: "snapshot", Data: &vm}
			if vm.IsError && vm.Error != nil && vm.Error.Code == errors.Unauthorized && s.gate.Trigger("stream "+vm.Plate.String()) {
				msg.Redirect = s.gate.LoginPath()
			}
			if err := ws.WriteJSON(msg); err != nil {
				logger.Debug("Stream write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		case resp := <-problems:
			if err := ws.WriteJSON(StreamMessage{Type: "error", Error: &resp}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(obs *engine.Observer, payload []byte) (ErrorResponse, bool) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return NewErrorResponse(errors.NewLookupError(errors.InvalidArgument, "message is not JSON", err)), false
	}

	var err error
	switch strings.ToLower(msg.Type) {
	case "plate":
		err = obs.SetPlate(msg.Plate)
	case "image-failed":
		err = obs.OnImageLoadFailure()
	default:
		err = errors.NewLookupError(errors.InvalidArgument, "unknown message type "+msg.Type, nil)
	}
	if err != nil {
		return NewErrorResponse(err), false
	}
	return ErrorResponse{}, true
}
