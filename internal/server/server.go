package server

import (
	"context"
	"time"

	"backend-vehiclecare/internal/auth"
	"backend-vehiclecare/internal/config"
	"backend-vehiclecare/internal/stream"
	"backend-vehiclecare/internal/tracker"
	"backend-vehiclecare/internal/tracking"
	"backend-vehiclecare/internal/vehicle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Service
}

// AdsConfig is the banner configuration handed to clients. Unset ids are null.
type AdsConfig struct {
	PublisherID *string `json:"admob_publisher_id"`
	AppID       *string `json:"admob_app_id"`
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	vehicles := vehicle.NewService(db)

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       db,
		Redis:    redisClient,
		Stream:   hub,
		Tracking: tracking.NewService(db, vehicles, hub, trackerOptions(cfg)),
	}

	registerRoutes(s, vehicles)
	return s
}

func registerRoutes(s *Server, vehicles *vehicle.Service) {
	s.App.Get("/health", s.health)
	s.App.Get("/config/ads", func(c *fiber.Ctx) error {
		return c.JSON(AdsConfig{
			PublisherID: optional(s.Cfg.AdMobPublisherID),
			AppID:       optional(s.Cfg.AdMobAppID),
		})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret))
	vehicle.RegisterRoutes(s.App.Group("/vehicles"), vehicles, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware, tracking.WatcherGuard(s.Tracking, "vehicleID"))
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status := fiber.Map{"status": "ok", "postgres": "disabled", "redis": "disabled"}
	if s.DB != nil {
		status["postgres"] = probe(s.DB.Ping(ctx))
	}
	if s.Redis != nil {
		status["redis"] = probe(s.Redis.Ping(ctx).Err())
	}
	return c.JSON(status)
}

// Close stops live trackers and the stream subscription.
func (s *Server) Close() {
	s.Tracking.Close()
	s.Stream.Close()
}

func trackerOptions(cfg config.Config) tracker.Options {
	opts := tracker.DefaultOptions()
	opts.Watch.HighAccuracy = cfg.TrackerHighAccuracy
	opts.Watch.Timeout = cfg.TrackerFixTimeout
	opts.Watch.MaximumAge = cfg.TrackerMaximumAge
	opts.MaxJumpKm = cfg.TrackerMaxJumpKm
	return opts
}

func probe(err error) string {
	if err != nil {
		return "down"
	}
	return "up"
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
