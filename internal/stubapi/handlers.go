package stubapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type addRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) listHandler(c *gin.Context) {
	s.mu.Lock()
	lines := make([]gin.H, 0, len(s.lines))
	for _, l := range s.lines {
		lines = append(lines, s.renderLine(l))
	}
	shape := s.shape
	s.mu.Unlock()

	switch shape {
	case ShapeItems:
		c.JSON(http.StatusOK, gin.H{"items": lines})
	case ShapeData:
		c.JSON(http.StatusOK, gin.H{"data": lines})
	default:
		c.JSON(http.StatusOK, lines)
	}
}

// renderLine must be called with s.mu held.
func (s *Server) renderLine(l Line) gin.H {
	out := gin.H{"id": l.ID, "quantity": l.Quantity, "productId": l.ProductID}
	p, ok := s.catalog[l.ProductID]
	if !ok {
		return out
	}
	product := gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"price":       p.Price.StringFixed(2),
		"photo":       p.Photo,
		"description": p.Description,
	}
	switch s.nesting {
	case NestFlat:
		for k, v := range product {
			if k != "id" {
				out[k] = v
			}
		}
	case NestLower:
		out["product"] = product
	default:
		out["Product"] = product
	}
	return out
}

func (s *Server) addHandler(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if req.Quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "quantity must be positive"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.catalog) > 0 {
		if _, ok := s.catalog[req.ProductID]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "product not found"})
			return
		}
	}
	for i := range s.lines {
		if s.lines[i].ProductID == req.ProductID {
			s.lines[i].Quantity += req.Quantity
			c.JSON(http.StatusOK, gin.H{"id": s.lines[i].ID})
			return
		}
	}
	line := Line{ID: s.nextID, ProductID: req.ProductID, Quantity: req.Quantity}
	s.nextID++
	s.lines = append(s.lines, line)
	c.JSON(http.StatusCreated, gin.H{"id": line.ID})
}

func (s *Server) setQuantityHandler(c *gin.Context) {
	id, ok := lineID(c)
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "quantity must be positive"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ID == id {
			s.lines[i].Quantity = req.Quantity
			c.JSON(http.StatusOK, gin.H{"id": id})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"message": "cart item not found"})
}

func (s *Server) removeHandler(c *gin.Context) {
	id, ok := lineID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].ID == id {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"message": "cart item not found"})
}

func (s *Server) clearHandler(c *gin.Context) {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) checkoutHandler(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if key != "" && s.checkoutKeys[key] {
		c.JSON(http.StatusOK, gin.H{"message": "order already placed"})
		return
	}
	if len(s.lines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "cart is empty"})
		return
	}
	if key != "" {
		s.checkoutKeys[key] = true
	}
	s.orders++
	s.lines = nil
	c.JSON(http.StatusCreated, gin.H{"orderId": s.orders})
}

func lineID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid cart item id"})
		return 0, false
	}
	return id, true
}
