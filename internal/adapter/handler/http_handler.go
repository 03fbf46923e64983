package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/core/service"
	"github.com/rl1809/keydrop/internal/metrics"
)

type Server struct {
	engine      *gin.Engine
	orders      *service.OrderService
	fulfillment *service.FulfillmentService
	inventory   *service.InventoryService
	health      *Health
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewServer(
	orders *service.OrderService,
	fulfillment *service.FulfillmentService,
	inventory *service.InventoryService,
	health *Health,
	m *metrics.Metrics,
	log *zap.Logger,
) *Server {
	r := gin.New()
	r.Use(requestLogger(log), gin.Recovery())
	s := &Server{
		engine:      r,
		orders:      orders,
		fulfillment: fulfillment,
		inventory:   inventory,
		health:      health,
		metrics:     m,
		log:         log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/products", s.listProducts)

		orders := v1.Group("/orders", requireUser)
		orders.POST("", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET(":id", s.getOrder)
		orders.GET(":id/items", s.getDeliveredItems)

		admin := v1.Group("/admin", requireUser, requireAdmin)
		admin.POST("/products", s.createProduct)
		admin.POST("/products/:id/inventory", s.addInventoryItems)
		admin.GET("/products/:id/inventory", s.getInventoryStats)
		admin.GET("/invariants", s.checkInvariants)
		admin.POST("/reconcile", s.reconcile)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http request failed", fields...)
			return
		}
		log.Debug("http request completed", fields...)
	}
}

func requireUser(c *gin.Context) {
	r := requesterFromHeaders(c)
	if r.UserID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserIDHeader + " header"})
		return
	}
	c.Set(requesterKey, r)
	c.Next()
}

func requireAdmin(c *gin.Context) {
	if !requester(c).Admin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	c.Next()
}

func requester(c *gin.Context) domain.Requester {
	if v, ok := c.Get(requesterKey); ok {
		if r, ok := v.(domain.Requester); ok {
			return r
		}
	}
	return requesterFromHeaders(c)
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(mapErrorToStatus(err), gin.H{
		"error": publicMessage(err),
		"kind":  string(domain.KindOf(err)),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	if err := s.health.Check(c.Request.Context()); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": string(domain.KindValidation)})
		return
	}
	order, err := s.orders.CreateOrder(c.Request.Context(), req.toDomain(requester(c).UserID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.orders.ListOrders(c.Request.Context(), requester(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := make([]OrderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.GetOrder(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (s *Server) getDeliveredItems(c *gin.Context) {
	orderID := c.Param("id")
	items, err := s.fulfillment.GetDeliveredItems(c.Request.Context(), orderID, requester(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, DeliveredItemsResponse{OrderID: orderID, Items: items})
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.inventory.ListProducts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		if p.Active {
			resp = append(resp, newProductResponse(p))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": string(domain.KindValidation)})
		return
	}
	p, err := s.inventory.CreateProduct(c.Request.Context(), service.ProductInput{
		ID:                   req.ID,
		Name:                 req.Name,
		Price:                domain.DecimalToMinor(req.Price),
		ProductType:          domain.ProductType(req.ProductType),
		DeliveryInstructions: req.DeliveryInstructions,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newProductResponse(*p))
}

func (s *Server) addInventoryItems(c *gin.Context) {
	var req AddInventoryItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": string(domain.KindValidation)})
		return
	}
	stats, err := s.inventory.AddInventoryItems(c.Request.Context(), c.Param("id"), req.Items, requester(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, stats)
}

func (s *Server) getInventoryStats(c *gin.Context) {
	stats, err := s.inventory.GetInventoryStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) checkInvariants(c *gin.Context) {
	report, err := s.inventory.CheckInvariants(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": report.OK(), "report": report})
}

func (s *Server) reconcile(c *gin.Context) {
	result, err := s.inventory.Reconcile(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("reconcile requested",
		zap.String("admin_id", requester(c).UserID),
		zap.Int("released", result.Released),
	)
	c.JSON(http.StatusOK, result)
}
