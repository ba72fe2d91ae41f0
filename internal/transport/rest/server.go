// Package rest is the synchronous purchase surface for out-of-band callers:
// the same Transaction Engine the room uses, behind bearer-token auth and a
// Redis token bucket. Purchases committed here are pushed into the room's
// mirror so connected viewers see them without a refresh.
package rest

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"infinityworld.gg/internal/auth"
	"infinityworld.gg/internal/economy"
	"infinityworld.gg/internal/fault"
	"infinityworld.gg/internal/protocol"
	"infinityworld.gg/internal/store"
	"infinityworld.gg/internal/tuning"
	"infinityworld.gg/internal/world"
)

type Server struct {
	echo   *echo.Echo
	st     *store.Store
	econ   *economy.Engine
	room   *world.Room
	tokens *auth.Tokens
	logger *log.Logger
}

// NewServer wires the routes. rdb may be nil, which disables rate limiting;
// room may be nil in tests that only exercise the HTTP surface.
func NewServer(st *store.Store, econ *economy.Engine, room *world.Room, tokens *auth.Tokens, rdb *redis.Client, rl tuning.RateLimits, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		echo:   echo.New(),
		st:     st,
		econ:   econ,
		room:   room,
		tokens: tokens,
		logger: logger,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	g := s.echo.Group("/v1", JWTAuth(tokens))
	limited := g.Group("", TokenBucket(rl, rdb, logger))
	limited.POST("/parcels/buy", s.buyParcel)
	limited.POST("/shop/buy", s.buyObject)
	g.GET("/players/me", s.me)
	g.GET("/catalog", s.listCatalog)
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

type buyParcelReq struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s *Server) buyParcel(c echo.Context) error {
	pid := playerID(c)
	var req buyParcelReq
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.ValidationFailed, "malformed body"))
	}
	res, err := s.econ.BuyParcel(c.Request().Context(), pid, req.X, req.Y, "rest")
	if err != nil {
		return writeFault(c, err)
	}
	if s.room != nil {
		s.room.NotifyPurchase(res)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"parcel":    res.Parcel,
		"coins":     res.Balance,
		"pricePaid": s.econ.Price(),
	})
}

type buyObjectReq struct {
	ObjectID int64 `json:"objectId"`
}

func (s *Server) buyObject(c echo.Context) error {
	pid := playerID(c)
	var req buyObjectReq
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.ValidationFailed, "malformed body"))
	}
	res, err := s.econ.UnlockObject(c.Request().Context(), pid, req.ObjectID, "rest")
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"unlocked":       res.Object.ID,
		"coinsRemaining": res.Balance,
	})
}

func (s *Server) me(c echo.Context) error {
	ctx := c.Request().Context()
	player, err := s.st.Players.GetByID(ctx, playerID(c))
	if err != nil {
		return writeFault(c, err)
	}
	parcels, err := s.st.Parcels.ListByOwner(ctx, player.ID)
	if err != nil {
		return writeFault(c, err)
	}
	inventory, err := s.st.Inventory.ListByPlayer(ctx, player.ID)
	if err != nil {
		return writeFault(c, err)
	}
	if inventory == nil {
		inventory = []int64{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"player":    player,
		"parcels":   parcels,
		"inventory": inventory,
	})
}

func (s *Server) listCatalog(c echo.Context) error {
	objs, err := s.st.Catalog.List(c.Request().Context())
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"objects": objs})
}

// writeFault maps a classified error to its HTTP status and wire code.
func writeFault(c echo.Context, err error) error {
	kind := fault.KindOf(err)
	return c.JSON(fault.HTTPStatus(kind), echo.Map{
		"error":   protocol.CodeFor(err),
		"message": err.Error(),
	})
}
