// Package stubapi is an in-memory stand-in for the cart backend's
// /api/v1/cart resource. It serves tests and local development of the
// client and can inject failures, latency and rate limiting per route.
package stubapi

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const BasePath = "/api/v1/cart"

// Route keys identify endpoints for failure injection and call counting.
const (
	RouteList     = "GET " + BasePath + "/"
	RouteAdd      = "POST " + BasePath + "/add"
	RouteSetQty   = "PUT " + BasePath + "/item/:id"
	RouteRemove   = "DELETE " + BasePath + "/item/:id"
	RouteClear    = "DELETE " + BasePath + "/clear"
	RouteCheckout = "POST " + BasePath + "/checkout"
)

// Shape selects how GET wraps its lines.
type Shape string

const (
	ShapeArray Shape = "array"
	ShapeItems Shape = "items"
	ShapeData  Shape = "data"
)

// Nesting selects where GET puts product fields.
type Nesting string

const (
	NestUpper Nesting = "Product"
	NestLower Nesting = "product"
	NestFlat  Nesting = "flat"
)

type Product struct {
	ID          int64
	Name        string
	Price       decimal.Decimal
	Photo       string
	Description string
}

type Line struct {
	ID        int64
	ProductID int64
	Quantity  int
}

// Failure is returned instead of the route's normal response.
type Failure struct {
	Status     int
	RetryAfter string
	Message    string
}

type Server struct {
	mu sync.Mutex

	token   string
	catalog map[int64]Product
	lines   []Line
	nextID  int64
	shape   Shape
	nesting Nesting
	latency time.Duration
	limiter *rate.Limiter

	failures     map[string][]Failure
	calls        map[string]int
	inFlight     int
	maxInFlight  int
	orders       int
	checkoutKeys map[string]bool
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every cart route.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func WithCatalog(products ...Product) Option {
	return func(s *Server) {
		for _, p := range products {
			s.catalog[p.ID] = p
		}
	}
}

func WithShape(shape Shape) Option {
	return func(s *Server) { s.shape = shape }
}

func WithNesting(n Nesting) Option {
	return func(s *Server) { s.nesting = n }
}

// WithLatency delays every cart response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithRateLimit answers 429 with Retry-After once the token bucket is empty.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(limit, burst) }
}

func New(opts ...Option) *Server {
	s := &Server{
		catalog:      make(map[int64]Product),
		nextID:       1,
		shape:        ShapeArray,
		nesting:      NestUpper,
		failures:     make(map[string][]Failure),
		calls:        make(map[string]int),
		checkoutKeys: make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the gin engine serving the stub.
func (s *Server) Handler() http.Handler {
	return buildRouter(s)
}

// Stock adds products to the catalog, replacing entries with the same ID.
func (s *Server) Stock(products ...Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.catalog[p.ID] = p
	}
}

// Seed replaces the cart contents.
func (s *Server) Seed(lines ...Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append([]Line(nil), lines...)
	for _, l := range lines {
		if l.ID >= s.nextID {
			s.nextID = l.ID + 1
		}
	}
}

// FailNext queues failures for route; each request consumes one.
func (s *Server) FailNext(route string, failures ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failures...)
}

func (s *Server) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines...)
}

func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// MaxInFlight is the highest number of cart requests ever served at once.
func (s *Server) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Server) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders
}

func (s *Server) CheckoutKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.checkoutKeys))
	for k := range s.checkoutKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
