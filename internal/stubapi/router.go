package stubapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// buildRouter wires the cart routes onto a fresh gin engine.
func buildRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery(), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:   []string{"Retry-After"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler)

	cart := router.Group(BasePath)
	cart.Use(s.trackMiddleware(), s.failureMiddleware(), s.rateLimitMiddleware(), s.authMiddleware())
	cart.GET("/", s.listHandler)
	cart.POST("/add", s.addHandler)
	cart.PUT("/item/:id", s.setQuantityHandler)
	cart.DELETE("/item/:id", s.removeHandler)
	cart.DELETE("/clear", s.clearHandler)
	cart.POST("/checkout", s.checkoutHandler)

	return router
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func routeKey(c *gin.Context) string {
	return c.Request.Method + " " + c.FullPath()
}

func (s *Server) trackMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[routeKey(c)]++
		s.inFlight++
		if s.inFlight > s.maxInFlight {
			s.maxInFlight = s.inFlight
		}
		latency := s.latency
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()

		if latency > 0 {
			time.Sleep(latency)
		}
		c.Next()
	}
}

func (s *Server) failureMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeKey(c)
		s.mu.Lock()
		queue := s.failures[key]
		var f *Failure
		if len(queue) > 0 {
			f = &queue[0]
			s.failures[key] = queue[1:]
		}
		s.mu.Unlock()

		if f == nil {
			c.Next()
			return
		}
		if f.RetryAfter != "" {
			c.Header("Retry-After", f.RetryAfter)
		}
		if f.Message == "" {
			c.AbortWithStatus(f.Status)
			return
		}
		c.AbortWithStatusJSON(f.Status, gin.H{"message": f.Message})
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		r := s.limiter.Reserve()
		delay := r.Delay()
		if delay == 0 {
			c.Next()
			return
		}
		r.Cancel()
		seconds := int(math.Ceil(delay.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many requests"})
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
			return
		}
		c.Next()
	}
}
