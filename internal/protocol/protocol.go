package protocol

import "encoding/json"

const Version = "1.0"

// Message types (client -> server).
const (
	TypeHello          = "hello"
	TypeRequestParcels = "requestParcels"
	TypePlaceBuild     = "placeBuild"
	TypeMoveBuild      = "moveBuild"
	TypeDeleteBuild    = "deleteBuild"
	TypeBuyParcel      = "buyParcel"
)

// Message types (server -> client).
const (
	TypeInitPlayer  = "initPlayer"
	TypeActionOk    = "actionOk"
	TypeActionError = "actionError"
	TypeEvents      = "events"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
