package api

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	vehicles := s.router.Group("/vehicles")
	vehicles.Use(RateLimitMiddleware(s.limiter))
	vehicles.GET("/:plate", s.handleLookup)
	vehicles.GET("/:plate/stream", s.handleStream)

	c := s.router.Group("/cache")
	c.GET("/stats", s.handleCacheStats)
	c.POST("/invalidate", s.handleCacheInvalidate)
	c.POST("/reclaim", s.handleCacheReclaim)

	session := s.router.Group("/session")
	session.POST("/login", s.handleLogin)
	session.POST("/logout", s.handleLogout)
}
