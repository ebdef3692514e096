package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/auth"
	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/cache"
	"github.com/nimbuschat/realtime/internal/delivery/http/middleware"
	"github.com/nimbuschat/realtime/internal/delivery/ws"
	"github.com/nimbuschat/realtime/internal/notify"
	"github.com/nimbuschat/realtime/internal/observer"
	"github.com/nimbuschat/realtime/internal/presence"
)

// RouterDeps holds every dependency needed to construct the router.
type RouterDeps struct {
	Verifier        auth.Verifier
	Broadcaster     *broadcaster.Broadcaster
	Presence        *presence.Registry
	Observer        *observer.Observer
	Dispatcher      *notify.Dispatcher
	Tail            cache.TailCache
	ChannelStore    ChannelMessageLoader
	Users           broadcaster.UserDirectory
	Logger          *zap.Logger
	RateLimitPerMin int
	DBPool          *pgxpool.Pool
	AmqpURI         string
	Redis           *redis.Client
	ObserverToken   string
	NotifyToken     string
}

// NewRouter builds the Gin engine serving both the websocket ingress
// endpoints and the HTTP surface.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.BodySizeLimit(1 << 20))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	connHandler := ws.NewConnectionHandler(deps.Verifier, deps.Presence, deps.Logger)
	router.GET("/connection", connHandler.Handle)

	msgHandler := ws.NewMessageHandler(deps.Verifier, deps.Broadcaster, deps.Dispatcher, deps.Logger)
	router.GET("/message/:room_id", msgHandler.Handle)

	obsHandler := ws.NewObserverHandler(deps.ObserverToken, deps.Observer, deps.Logger)
	router.GET("/internal/observer", obsHandler.Handle)

	notifyHandler := NewNotifyHandler(deps.NotifyToken, deps.Dispatcher, deps.Logger)
	router.POST("/internal/notify", notifyHandler.Post)

	healthHandler := NewHealthHandler(deps.Logger, deps.DBPool, deps.AmqpURI, deps.Redis)
	router.GET("/status/health", healthHandler.Health)

	statusHandler := NewStatusHandler(deps.Verifier, deps.Presence, deps.Logger)
	router.GET("/status/get", statusHandler.Get)

	channelHandler := NewChannelHandler(deps.Tail, deps.ChannelStore, deps.Users, deps.Logger)

	rateLimited := router.Group("")
	rateLimited.Use(middleware.RateLimiter(deps.Redis, deps.RateLimitPerMin))
	{
		rateLimited.POST("/status/change", statusHandler.Change)
		rateLimited.GET("/message/channel/cache", channelHandler.GetCache)
	}

	return router
}
