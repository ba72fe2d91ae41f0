// Package economy implements the transactional side of the world: parcel
// purchases and catalog unlocks. Every mutation runs inside a single database
// transaction and either fully applies or fully rolls back; coin balances can
// never go negative and every balance change leaves an audit row behind.
package economy

import (
	"context"
	"fmt"
	"log"

	"infinityworld.gg/internal/fault"
	"infinityworld.gg/internal/store"
)

// Actions recorded in the economy log.
const (
	ActionBuyParcel    = "buy_parcel"
	ActionUnlockObject = "unlock_object"
	ActionGrant        = "grant"
)

// Publisher receives committed economy entries for out-of-band consumers.
// Publishing is best effort and happens after commit; a failing publisher
// never fails the purchase.
type Publisher interface {
	PublishEntry(ctx context.Context, e store.EconomyEntry)
}

// Engine executes purchases against the store.
type Engine struct {
	st        *store.Store
	price     int64
	proximity int
	pub       Publisher
	logger    *log.Logger
}

func New(st *store.Store, parcelPrice int64, proximity int, pub Publisher, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{st: st, price: parcelPrice, proximity: proximity, pub: pub, logger: logger}
}

// Price returns the configured parcel price.
func (e *Engine) Price() int64 { return e.price }

// BuyResult reports the outcome of a successful parcel purchase.
type BuyResult struct {
	Parcel  store.Parcel
	Balance int64
	// Created is true when the coordinate had no row before the purchase,
	// false when an existing unowned (system) row was flipped to the buyer.
	Created bool
}

// BuyParcel purchases the parcel at (x, y) for the player. The whole check
// sequence runs under one transaction with the player row locked first, so
// two racing purchases of the same coordinate serialize and exactly one wins.
//
// origin tags the audit row with the surface the request came from ("ws",
// "rest", "admin").
func (e *Engine) BuyParcel(ctx context.Context, playerID int64, x, y int, origin string) (BuyResult, error) {
	tx, err := e.st.BeginTx(ctx)
	if err != nil {
		return BuyResult{}, fault.New(fault.Internal, "begin buy tx: %v", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	player, err := e.st.Players.GetForUpdateTx(ctx, tx, playerID)
	if err != nil {
		return BuyResult{}, err
	}

	existing, err := e.st.Parcels.GetByCoordTx(ctx, tx, x, y)
	if err != nil {
		return BuyResult{}, err
	}
	if existing != nil && existing.OwnerID != nil {
		if *existing.OwnerID == playerID {
			return BuyResult{}, fault.New(fault.AlreadyOwned, "parcel (%d,%d) is already yours", x, y)
		}
		return BuyResult{}, fault.New(fault.AlreadyOwned, "parcel (%d,%d) is already owned", x, y)
	}

	owned, err := e.st.Parcels.ListByOwnerTx(ctx, tx, playerID)
	if err != nil {
		return BuyResult{}, err
	}
	if !withinProximity(x, y, owned, e.proximity) {
		return BuyResult{}, fault.New(fault.OutOfRange, "parcel (%d,%d) is farther than %d from your holdings", x, y, e.proximity)
	}

	if existing != nil && existing.System {
		return BuyResult{}, fault.New(fault.Forbidden, "parcel (%d,%d) is reserved", x, y)
	}

	if player.Coins < e.price {
		return BuyResult{}, fault.New(fault.InsufficientFunds, "parcel costs %d, balance is %d", e.price, player.Coins)
	}
	ok, err := e.st.Players.DeductCoinsTx(ctx, tx, playerID, e.price)
	if err != nil {
		return BuyResult{}, err
	}
	if !ok {
		// Lost a race despite the lock; treat like a plain shortfall.
		return BuyResult{}, fault.New(fault.InsufficientFunds, "parcel costs %d, balance is %d", e.price, player.Coins)
	}

	var (
		parcel  store.Parcel
		created bool
	)
	if existing == nil {
		parcel, err = e.st.Parcels.CreateOwnedTx(ctx, tx, x, y, playerID)
		if err != nil {
			return BuyResult{}, err
		}
		created = true
	} else {
		flipped, err := e.st.Parcels.SetOwnerTx(ctx, tx, existing.ID, playerID)
		if err != nil {
			return BuyResult{}, err
		}
		if !flipped {
			return BuyResult{}, fault.New(fault.AlreadyOwned, "parcel (%d,%d) is already owned", x, y)
		}
		parcel = *existing
		parcel.OwnerID = &playerID
	}

	entry := store.EconomyEntry{
		PlayerID:      playerID,
		Action:        ActionBuyParcel,
		Amount:        -e.price,
		BalanceBefore: player.Coins,
		BalanceAfter:  player.Coins - e.price,
		Meta:          fmt.Sprintf(`{"parcel_id":%d,"x":%d,"y":%d}`, parcel.ID, x, y),
		Origin:        origin,
	}
	if err := e.st.EconLog.AppendTx(ctx, tx, &entry); err != nil {
		return BuyResult{}, fault.New(fault.Internal, "append economy log: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return BuyResult{}, fault.New(fault.Internal, "commit buy: %v", err)
	}
	committed = true

	e.logger.Printf("player %d bought parcel %d at (%d,%d) for %d (balance %d)",
		playerID, parcel.ID, x, y, e.price, entry.BalanceAfter)
	if e.pub != nil {
		e.pub.PublishEntry(ctx, entry)
	}
	return BuyResult{Parcel: parcel, Balance: entry.BalanceAfter, Created: created}, nil
}

// UnlockResult reports the outcome of a catalog unlock.
type UnlockResult struct {
	Object  store.CatalogObject
	Balance int64
	// Charged is false for free objects and for idempotent re-unlocks.
	Charged bool
}

// UnlockObject adds a catalog object to the player's inventory. Free objects
// unlock idempotently with no charge; repeating the call is not an error.
// Paid objects run the full transactional path and repeating the purchase
// fails with AlreadyUnlocked rather than charging twice.
func (e *Engine) UnlockObject(ctx context.Context, playerID, objectID int64, origin string) (UnlockResult, error) {
	obj, err := e.st.Catalog.GetByID(ctx, objectID)
	if err != nil {
		return UnlockResult{}, err
	}

	if obj.Free || obj.Price == 0 {
		if _, err := e.st.Inventory.InsertIfAbsent(ctx, playerID, objectID); err != nil {
			return UnlockResult{}, err
		}
		player, err := e.st.Players.GetByID(ctx, playerID)
		if err != nil {
			return UnlockResult{}, err
		}
		return UnlockResult{Object: obj, Balance: player.Coins}, nil
	}

	tx, err := e.st.BeginTx(ctx)
	if err != nil {
		return UnlockResult{}, fault.New(fault.Internal, "begin unlock tx: %v", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	player, err := e.st.Players.GetForUpdateTx(ctx, tx, playerID)
	if err != nil {
		return UnlockResult{}, err
	}
	has, err := e.st.Inventory.HasTx(ctx, tx, playerID, objectID)
	if err != nil {
		return UnlockResult{}, err
	}
	if has {
		return UnlockResult{}, fault.New(fault.AlreadyUnlocked, "object %q is already unlocked", obj.Name)
	}

	if player.Coins < obj.Price {
		return UnlockResult{}, fault.New(fault.InsufficientFunds, "%q costs %d, balance is %d", obj.Name, obj.Price, player.Coins)
	}
	ok, err := e.st.Players.DeductCoinsTx(ctx, tx, playerID, obj.Price)
	if err != nil {
		return UnlockResult{}, err
	}
	if !ok {
		return UnlockResult{}, fault.New(fault.InsufficientFunds, "%q costs %d, balance is %d", obj.Name, obj.Price, player.Coins)
	}

	if err := e.st.Inventory.InsertTx(ctx, tx, playerID, objectID); err != nil {
		return UnlockResult{}, err
	}

	entry := store.EconomyEntry{
		PlayerID:      playerID,
		Action:        ActionUnlockObject,
		Amount:        -obj.Price,
		BalanceBefore: player.Coins,
		BalanceAfter:  player.Coins - obj.Price,
		Meta:          fmt.Sprintf(`{"object_id":%d,"name":%q}`, obj.ID, obj.Name),
		Origin:        origin,
	}
	if err := e.st.EconLog.AppendTx(ctx, tx, &entry); err != nil {
		return UnlockResult{}, fault.New(fault.Internal, "append economy log: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return UnlockResult{}, fault.New(fault.Internal, "commit unlock: %v", err)
	}
	committed = true

	e.logger.Printf("player %d unlocked %q for %d (balance %d)",
		playerID, obj.Name, obj.Price, entry.BalanceAfter)
	if e.pub != nil {
		e.pub.PublishEntry(ctx, entry)
	}
	return UnlockResult{Object: obj, Balance: entry.BalanceAfter, Charged: true}, nil
}

// GrantCoins credits a player out of band, used by the admin tooling. Runs
// through the same transactional path as purchases so the credit leaves an
// audit row.
func (e *Engine) GrantCoins(ctx context.Context, playerID, amount int64, origin string) (int64, error) {
	if amount <= 0 {
		return 0, fault.New(fault.ValidationFailed, "grant amount must be positive")
	}
	tx, err := e.st.BeginTx(ctx)
	if err != nil {
		return 0, fault.New(fault.Internal, "begin grant tx: %v", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	player, err := e.st.Players.GetForUpdateTx(ctx, tx, playerID)
	if err != nil {
		return 0, err
	}
	if err := e.st.Players.AddCoinsTx(ctx, tx, playerID, amount); err != nil {
		return 0, err
	}
	entry := store.EconomyEntry{
		PlayerID:      playerID,
		Action:        ActionGrant,
		Amount:        amount,
		BalanceBefore: player.Coins,
		BalanceAfter:  player.Coins + amount,
		Meta:          `{}`,
		Origin:        origin,
	}
	if err := e.st.EconLog.AppendTx(ctx, tx, &entry); err != nil {
		return 0, fault.New(fault.Internal, "append economy log: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fault.New(fault.Internal, "commit grant: %v", err)
	}
	committed = true

	e.logger.Printf("player %d granted %d (balance %d)", playerID, amount, entry.BalanceAfter)
	if e.pub != nil {
		e.pub.PublishEntry(ctx, entry)
	}
	return entry.BalanceAfter, nil
}

// withinProximity reports whether (x, y) is a legal purchase target. The
// origin anchors only a player's first parcel; once they own any, the target
// must be within dist of one of their holdings. Distance is Chebyshev: the
// greater of the axis deltas.
func withinProximity(x, y int, owned []store.Parcel, dist int) bool {
	if len(owned) == 0 {
		return chebyshev(x, y, 0, 0) <= dist
	}
	for _, p := range owned {
		if chebyshev(x, y, p.X, p.Y) <= dist {
			return true
		}
	}
	return false
}

func chebyshev(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
