package routers

import (
	"bookmart/handlers"
	"bookmart/middleware"
	"github.com/gin-gonic/gin"
)

func SetupRouters(h *handlers.Handler) (*gin.Engine, error) {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.Metrics(h.Metrics),
		middleware.CORS(h.Config.Server.AllowedOrigins),
		middleware.ErrorHandler(),
	)
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.Static("/uploads", h.Config.Server.UploadDir)
	router.GET("/healthz", h.HealthzHandler)
	router.GET("/readyz", h.ReadyzHandler)
	router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))

	limiter := middleware.NewRateLimiter(h.Config.RateLimit.PerMinute, h.Config.RateLimit.Burst)

	// every API route may see the caller; groups below decide what is required
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(h.Tokens))
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", limiter.Middleware(), h.SignupHandler)
			auth.POST("/login", limiter.Middleware(), h.LoginHandler)
			auth.POST("/forgot-password", limiter.Middleware(), h.ForgotPasswordHandler)
			auth.POST("/reset-password", limiter.Middleware(), h.ResetPasswordHandler)
			auth.POST("/logout", middleware.CheckLoginMiddleware(), h.LogoutHandler)
			auth.GET("/me", middleware.CheckLoginMiddleware(), h.MeHandler)
		}

		api.GET("/books", h.GetBooksHandler)
		api.GET("/books/:id", h.GetBookHandler)
		api.GET("/books/:id/reviews", h.GetBookReviewsHandler)
		api.GET("/categories", h.GetCategoriesHandler)
		api.GET("/categories/:id/books", h.GetCategoryBooksHandler)

		// anonymous visitors keep a cart too
		cart := api.Group("/cart")
		{
			cart.GET("", h.GetCartHandler)
			cart.POST("/items", h.AddToCartHandler)
			cart.PUT("/items/:bookId", h.UpdateCartItemQuantityHandler)
			cart.DELETE("/items/:bookId", h.DeleteCartItemHandler)
			cart.DELETE("", h.ClearCartHandler)
			cart.POST("/merge", middleware.CheckLoginMiddleware(), h.MergeCartHandler)
		}

		api.GET("/payments/config", h.PaymentConfigHandler)
		api.POST("/payments/webhook", h.PaymentWebhookHandler)

		loginRequired := api.Group("")
		loginRequired.Use(middleware.CheckLoginMiddleware())
		{
			loginRequired.GET("/users/profile", h.GetProfileHandler)
			loginRequired.PATCH("/users/profile", h.UpdateProfileHandler)
			loginRequired.PATCH("/users/password", h.ChangePasswordHandler)

			loginRequired.POST("/books/:id/reviews", h.CreateReviewHandler)
			loginRequired.PUT("/reviews/:id", h.UpdateReviewHandler)
			loginRequired.DELETE("/reviews/:id", h.DeleteReviewHandler)

			loginRequired.GET("/wishlist", h.GetWishlistHandler)
			loginRequired.POST("/wishlist", h.AddToWishlistHandler)
			loginRequired.DELETE("/wishlist", h.ClearWishlistHandler)
			loginRequired.DELETE("/wishlist/:bookId", h.RemoveFromWishlistHandler)
			loginRequired.POST("/wishlist/:bookId/move-to-cart", h.MoveToCartHandler)

			loginRequired.GET("/addresses", h.GetAddressesHandler)
			loginRequired.POST("/addresses", h.CreateAddressHandler)
			loginRequired.PUT("/addresses/:id", h.UpdateAddressHandler)
			loginRequired.DELETE("/addresses/:id", h.DeleteAddressHandler)
			loginRequired.PATCH("/addresses/:id/default", h.SetDefaultAddressHandler)

			loginRequired.POST("/payments/create-intent", h.CreatePaymentIntentHandler)

			loginRequired.POST("/orders", h.PlaceOrderHandler)
			loginRequired.GET("/orders", h.GetOrdersHandler)
			loginRequired.GET("/orders/:id", h.GetOrderHandler)
			loginRequired.POST("/orders/:id/cancel", h.CancelOrderHandler)
		}

		adminRequired := api.Group("/admin")
		adminRequired.Use(middleware.CheckLoginMiddleware(), middleware.CheckAdminPermissionMiddleware())
		{
			adminRequired.GET("/dashboard", h.DashboardHandler)

			adminRequired.POST("/upload", h.UploadImageHandler)
			adminRequired.POST("/books", h.CreateBookHandler)
			adminRequired.PUT("/books/:id", h.UpdateBookHandler)
			adminRequired.DELETE("/books/:id", h.DeleteBookHandler)

			adminRequired.POST("/categories", h.CreateCategoryHandler)
			adminRequired.PUT("/categories/:id", h.UpdateCategoryHandler)
			adminRequired.DELETE("/categories/:id", h.DeleteCategoryHandler)

			adminRequired.GET("/orders", h.GetAdminOrdersHandler)
			adminRequired.PATCH("/orders/:id/status", h.UpdateOrderStatusHandler)
			adminRequired.PATCH("/orders/:id/payment", h.UpdatePaymentStatusHandler)

			adminRequired.GET("/users", h.GetUserListHandler)
			adminRequired.PATCH("/users/:id/role", h.UpdateUserRoleHandler)
			adminRequired.DELETE("/users/:id", h.DeleteUserHandler)

			adminRequired.DELETE("/reviews/:id", h.DeleteReviewHandler)
		}
	}

	return router, nil
}
