package store

// Player is an account with a spendable coin balance. The store enforces
// coins >= 0; every balance mutation additionally re-checks it at write time.
type Player struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Coins int64  `json:"coins"`
}

// Parcel is a purchasable unit of land at an integer world coordinate. A
// coordinate has no row until first purchased or pre-seeded; at most one row
// may exist per (x, y).
type Parcel struct {
	ID      int64  `json:"id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	OwnerID *int64 `json:"owner_id"`
	System  bool   `json:"system"`
}

// CatalogObject is an immutable placeable template.
type CatalogObject struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Width int    `json:"width"`
	Depth int    `json:"depth"`
	Price int64  `json:"price"`
	Free  bool   `json:"free"`
}

// PlacedObject is an instance of a catalog object inside one parcel, at
// local coordinates within the parcel interior.
type PlacedObject struct {
	ID       int64 `json:"id"`
	ParcelID int64 `json:"parcel_id"`
	ObjectID int64 `json:"object_id"`
	LocalX   int   `json:"local_x"`
	LocalY   int   `json:"local_y"`
}

// EconomyEntry is an immutable audit record of one balance-affecting event.
type EconomyEntry struct {
	ID            string `json:"id"`
	PlayerID      int64  `json:"player_id"`
	Action        string `json:"action"`
	Amount        int64  `json:"amount"` // signed; negative for spends
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	Meta          string `json:"meta,omitempty"`
	Origin        string `json:"origin,omitempty"`
	CreatedAt     int64  `json:"created_at"` // unix seconds
}
