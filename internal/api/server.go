package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/media"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/jukezispilled/lockd/internal/middleware"
	"github.com/jukezispilled/lockd/internal/service"
	"github.com/jukezispilled/lockd/internal/videoroom"
	"github.com/jukezispilled/lockd/internal/ws"
	"go.uber.org/zap"
)

type ChatService interface {
	CreateOrGet(ctx context.Context, in service.CreateChatInput) (*domain.Chat, bool, error)
	List(ctx context.Context) ([]domain.Chat, error)
	Get(ctx context.Context, chatID string) (*domain.Chat, error)
}

type MessageService interface {
	Append(ctx context.Context, in service.SendInput) (*domain.Message, error)
	List(ctx context.Context, chatID string, limit, skip int64) ([]domain.Message, error)
}

type ImageService interface {
	Resolve(ctx context.Context, mints []string) (map[string]*string, error)
	Metadata(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

type RoomService interface {
	Configured() bool
	Get(ctx context.Context, chatID string) (*videoroom.Room, error)
	Ensure(ctx context.Context, chatID string) (*videoroom.Room, bool, error)
	Update(ctx context.Context, chatID string, props map[string]any) (json.RawMessage, error)
	Delete(ctx context.Context, chatID string) error
}

type MetadataUploader interface {
	Upload(ctx context.Context, form *media.Form) (map[string]any, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Deps are the collaborators the HTTP layer routes to. Passes, Rooms,
// Uploader, Stream and the limiters are optional.
type Deps struct {
	Chats     ChatService
	Messages  MessageService
	Evaluator *access.Evaluator
	Passes    *access.PassIssuer
	Images    ImageService
	Rooms     RoomService
	Uploader  MetadataUploader
	Stream    *ws.Handler

	IPLimiter   fiber.Handler
	SendLimiter fiber.Handler
	Ready       map[string]Checker

	BodyLimit    int
	AllowOrigins string
}

type Server struct {
	Deps
	log *zap.SugaredLogger
}

func NewServer(d Deps, log *zap.SugaredLogger) *fiber.App {
	if d.BodyLimit <= 0 {
		d.BodyLimit = 4 * 1024 * 1024
	}
	if d.AllowOrigins == "" {
		d.AllowOrigins = "*"
	}
	s := &Server{Deps: d, log: log}

	app := fiber.New(fiber.Config{
		AppName:               "lockd",
		BodyLimit:             d.BodyLimit,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{AllowOrigins: d.AllowOrigins, AllowHeaders: "Origin, Content-Type, Accept, X-Access-Pass"}))
	app.Use(middleware.RequestLogger(log))
	app.Use(middleware.Metrics())

	app.Get("/healthz", s.health)
	app.Get("/readyz", s.ready)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if d.IPLimiter != nil {
		app.Use(d.IPLimiter)
	}

	if d.Stream != nil {
		app.Get("/ws/chats/:chatId", d.Stream.Upgrade, d.Stream.Serve())
	}

	send := []fiber.Handler{s.sendMessage}
	if d.SendLimiter != nil {
		send = []fiber.Handler{d.SendLimiter, s.sendMessage}
	}

	app.Post("/api/chat/create", s.createChat)
	app.Post("/chats", s.createChat)
	app.Get("/chats", s.listChats)
	app.Get("/chats/:chatId", s.getChat)
	app.Get("/chats/:chatId/messages", s.listMessages)
	app.Post("/chats/:chatId/messages", send...)
	app.Get("/chats/:chatId/access", s.checkAccess)

	app.Post("/verify-token", s.verifyToken)
	app.Post("/token-image", s.tokenImages)
	app.Get("/tokens/:mint", s.tokenMetadata)

	app.Get("/video-room/:chatId", s.requireRooms, s.requireChat, s.getRoom)
	app.Post("/video-room/:chatId", s.requireRooms, s.requireChat, s.ensureRoom)
	app.Put("/video-room/:chatId", s.requireRooms, s.requireChat, s.updateRoom)
	app.Delete("/video-room/:chatId", s.requireRooms, s.requireChat, s.deleteRoom)

	app.Post("/upload-metadata", s.uploadMetadata)

	return app
}
