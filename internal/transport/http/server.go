package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "vectra-insight/internal/app"
	"vectra-insight/internal/bootstrap"
	"vectra-insight/internal/cache"
	"vectra-insight/internal/index"
	"vectra-insight/internal/platform/rabbitmq"
	"vectra-insight/internal/repository"
	"vectra-insight/internal/transport/http/handler"
	"vectra-insight/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORS(app.Config.App.FrontendURL))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	chatStore := repository.NewChatStore(app.MySQL)

	indexClient := index.NewClient(index.Config{
		BaseURL: app.Config.Index.BaseURL,
		Timeout: time.Duration(app.Config.Index.TimeoutSeconds) * time.Second,
	})
	searchCache := cache.NewSearchCache(app.Redis,
		time.Duration(app.Config.Redis.InsightTTLSeconds)*time.Second)
	eventPublisher := rabbitmq.NewChatEventPublisher(app.MQConn, app.Config.RabbitMQ.ChatEventQueue)

	jwtExpiration := time.Duration(app.Config.Auth.JWTExpireMinute) * time.Minute
	authService := appsvc.NewAuthService(userRepo, chatStore, app.Config.Auth.JWTSecret, jwtExpiration)
	oauthService := appsvc.NewOAuthService(userRepo, chatStore, appsvc.GoogleOAuthConfig{
		ClientID:     app.Config.OAuth.GoogleClientID,
		ClientSecret: app.Config.OAuth.GoogleClientSecret,
		RedirectURL:  app.Config.OAuth.GoogleRedirectURL,
	}, app.Config.Auth.JWTSecret, jwtExpiration)
	chatService := appsvc.NewChatService(chatStore, indexClient, eventPublisher, searchCache,
		app.Config.Index.ScoreThreshold)

	authHandler := handler.NewAuthHandler(authService)
	oauthHandler := handler.NewOAuthHandler(oauthService, app.Config.App.FrontendURL)
	chatHandler := handler.NewChatHandler(chatService)

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)
	authGroup.GET("/google", oauthHandler.GoogleLogin)
	authGroup.GET("/google/callback", oauthHandler.GoogleCallback)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	chatGroup.POST("/pdf_upload", chatHandler.UploadPDFs)
	chatGroup.GET("/search", chatHandler.Search)
	chatGroup.POST("/chats", chatHandler.CreateChat)
	chatGroup.GET("/chats", chatHandler.ListChats)
	chatGroup.DELETE("/chats/:id", chatHandler.DeleteChat)

	return router
}
