package main

import (
	"context"
	"net/http"
	"time"

	"dabubble/auth"
	"dabubble/cleanup"
	"dabubble/conversations"
	"dabubble/db"
	"dabubble/directory"
	"dabubble/prefs"
	"dabubble/profile"
	"dabubble/search"
	"dabubble/store"
	"dabubble/types"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Server holds everything sessions share.
type Server struct {
	ctx     context.Context
	cfg     Config
	conn    *sqlx.DB
	st      *store.Store
	dirs    *directory.Directories
	auth    *auth.Service
	conv    *conversations.Service
	profile *profile.Service
	recents *search.Recents
	sweeper *cleanup.Sweeper
	origins originPolicy

	upgrader    websocket.Upgrader
	searchDelay time.Duration
	closers     []func() error
}

func newServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}
	if err := cfg.Sweep.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.InitDB(cfg.DBFile)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	st := store.New(conn)

	s := &Server{
		ctx:         ctx,
		cfg:         cfg,
		conn:        conn,
		st:          st,
		auth:        auth.NewService(st, cfg.JWTSecret),
		conv:        conversations.NewService(st),
		profile:     profile.NewService(st, cfg.AvatarDir),
		sweeper:     cleanup.New(st, cfg.Sweep),
		origins:     newOriginPolicy(cfg.AllowedOrigins),
		searchDelay: search.DebounceDelay,
		closers:     []func() error{conn.Close},
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.origins.checkOrigin}
	s.auth.OnRegister = func(ctx context.Context, u types.User) error {
		return s.conv.JoinDefault(ctx, u.ID)
	}

	kv, closePrefs, err := openPrefs(ctx, cfg.RedisURL, conn)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closePrefs)
	s.recents = search.NewRecents(kv)
	s.sweeper.Prefs = kv

	if _, err := s.conv.EnsureDefaultChannel(ctx, cfg.DefaultChannel); err != nil {
		s.Close()
		return nil, err
	}
	s.dirs, err = directory.Start(ctx, st)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openPrefs picks the preference backend: Redis when a URL is configured,
// the preferences table otherwise.
func openPrefs(ctx context.Context, redisURL string, conn *sqlx.DB) (prefs.KV, func() error, error) {
	if redisURL == "" {
		return prefs.NewSQL(conn), func() error { return nil }, nil
	}
	client, err := prefs.DialRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	jww.INFO.Println("preferences stored in redis")
	return prefs.NewRedis(client, "dabubble:prefs:"), client.Close, nil
}

func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			jww.WARN.Printf("close: %v", err)
		}
	}
}

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func rateLimitErrorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(http.StatusTooManyRequests, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
}

func (s *Server) routes() *gin.Engine {
	r := gin.Default()

	limits := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{Rate: time.Second, Limit: 50})
	r.Use(ratelimit.RateLimiter(limits, &ratelimit.Options{ErrorHandler: rateLimitErrorHandler, KeyFunc: keyFunc}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = s.origins.list()
	corsCfg.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Static(profile.AvatarURLPrefix, s.cfg.AvatarDir)

	r.POST("/api/register", s.auth.HandleRegister)
	r.POST("/api/login", s.auth.HandleLogin)
	r.POST("/api/guest", s.auth.HandleGuestLogin)

	api := r.Group("/api", s.auth.Middleware())
	api.POST("/logout", s.auth.HandleLogout)
	api.POST("/reauthenticate", s.auth.HandleReauthenticate)
	api.PUT("/account/email", s.auth.HandleChangeEmail)
	api.PUT("/account/password", s.auth.HandleChangePassword)

	api.POST("/presence", s.profile.HandleHeartbeat)
	api.PUT("/profile", s.profile.HandleEdit)
	api.POST("/profile/avatar", s.profile.HandleUploadAvatar)

	api.GET("/users", s.handleListUsers)
	api.GET("/channels", s.handleListChannels)
	api.POST("/channels", s.handleCreateChannel)
	api.PUT("/channels/:id", s.handleEditChannel)
	api.POST("/channels/:id/members", s.handleAddMembers)
	api.DELETE("/channels/:id/members/me", s.handleLeaveChannel)
	api.POST("/chats/:id/read", s.handleMarkChatRead)
	api.GET("/search/recent", s.handleRecentSearches)

	r.GET("/ws", s.auth.Middleware(), s.HandleSocket)
	return r
}
