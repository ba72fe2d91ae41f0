package protocol

// Event kinds streamed to clients. Events for one coordinate are emitted in
// mutation order and must be applied in delivery order.
const (
	EventParcelAdded   = "parcelAdded"
	EventParcelChanged = "parcelChanged"
	EventParcelRemoved = "parcelRemoved"
	EventObjectAdded   = "objectAdded"
	EventObjectRemoved = "objectRemoved"
)

type Event struct {
	Kind string `json:"kind"`

	// parcelAdded, parcelChanged, parcelRemoved
	X       int            `json:"x"`
	Y       int            `json:"y"`
	Parcel  *Parcel        `json:"parcel,omitempty"`
	Objects []PlacedObject `json:"objects,omitempty"`

	// objectAdded, objectRemoved
	ParcelID       int64         `json:"parcelId,omitempty"`
	Object         *PlacedObject `json:"object,omitempty"`
	PlacedObjectID int64         `json:"placedObjectId,omitempty"`
}

// EVENTS (server -> client): ordered batch of state diffs.
type EventBatchMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocolVersion"`
	Events          []Event `json:"events"`
}
