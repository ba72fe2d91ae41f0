package protocol

// Wire entities shared by several messages.

type Parcel struct {
	ID      int64  `json:"id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	OwnerID *int64 `json:"ownerId"`
	System  bool   `json:"system,omitempty"`
}

type PlacedObject struct {
	ID       int64 `json:"id"`
	ParcelID int64 `json:"parcelId"`
	ObjectID int64 `json:"objectId"`
	LocalX   int   `json:"localX"`
	LocalY   int   `json:"localY"`
}

// HELLO (client -> server). Either PlayerID identifies a returning player, a
// ResumeToken resumes a session inside its grace window, or neither creates a
// fresh player named Name.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	PlayerID        int64  `json:"playerId,omitempty"`
	Name            string `json:"name,omitempty"`
	ResumeToken     string `json:"resumeToken,omitempty"`
	MaxQueue        int    `json:"maxQueue,omitempty"`
}

// INIT_PLAYER (server -> client): reply to a successful hello or resume.
type InitPlayerMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocolVersion"`
	PlayerID        int64    `json:"playerId"`
	Name            string   `json:"name"`
	Coins           int64    `json:"coins"`
	Parcels         []Parcel `json:"parcels"`
	Inventory       []int64  `json:"inventory"`
	ResumeToken     string   `json:"resumeToken"`
	ViewRadius      int      `json:"viewRadius"`
	ParcelSize      int      `json:"parcelSize"`
}

// Per-intent messages (client -> server). Senders use these so each message
// carries exactly the fields its schema allows.

type RequestParcelsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

type PlaceBuildMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	ParcelID        int64  `json:"parcelId"`
	ObjectID        int64  `json:"objectId"`
	LocalX          int    `json:"localX"`
	LocalY          int    `json:"localY"`
}

type MoveBuildMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	PlacedObjectID  int64  `json:"placedObjectId"`
	LocalX          int    `json:"localX"`
	LocalY          int    `json:"localY"`
}

type DeleteBuildMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	PlacedObjectID  int64  `json:"placedObjectId"`
}

type BuyParcelMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

// IntentMsg is the flat union of all client intents, used on the receiving
// side; Type selects the fields that are meaningful. Decoded once at the
// transport edge and handed to the room untouched.
type IntentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`

	// requestParcels, buyParcel
	X int `json:"x"`
	Y int `json:"y"`

	// placeBuild
	ParcelID int64 `json:"parcelId,omitempty"`
	ObjectID int64 `json:"objectId,omitempty"`

	// placeBuild, moveBuild
	LocalX int `json:"localX"`
	LocalY int `json:"localY"`

	// moveBuild, deleteBuild
	PlacedObjectID int64 `json:"placedObjectId,omitempty"`
}

// ACTION_OK (server -> client): point-to-point success reply for one intent.
type ActionOkMsg struct {
	Type           string  `json:"type"`
	Action         string  `json:"action"`
	PlacedObjectID int64   `json:"placedObjectId,omitempty"`
	Parcel         *Parcel `json:"parcel,omitempty"`
	Coins          *int64  `json:"coins,omitempty"`
}

// ACTION_ERROR (server -> client): point-to-point failure reply. Error is one
// of the stable codes in errors.go.
type ActionErrorMsg struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
