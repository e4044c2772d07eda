package ws

import (
	"encoding/json"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Subprotocol is the graphql-transport-ws protocol name negotiated on upgrade.
const Subprotocol = "graphql-transport-ws"

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Close codes the server uses to reject a connection for good. The client
// does not retry after them.
const (
	CloseInternalError       = 4500
	CloseBadRequest          = 4400
	CloseUnauthorized        = 4401
	CloseForbidden           = 4403
	CloseSubscriberExists    = 4409
	CloseTooManyInitRequests = 4429
)

// message is the envelope of every frame.
type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// errorPayload decodes an "error" frame's payload: a list of GraphQL errors.
func errorPayload(raw json.RawMessage) gqlerror.List {
	var list gqlerror.List
	if err := json.Unmarshal(raw, &list); err != nil {
		return gqlerror.List{{Message: string(raw)}}
	}
	return list
}

func isFatalClose(code int) bool {
	switch code {
	case CloseInternalError, CloseBadRequest, CloseUnauthorized, CloseForbidden,
		CloseSubscriberExists, CloseTooManyInitRequests:
		return true
	}
	return false
}
