package seed

import (
	"fitcart/internal/stubapi"
	"github.com/shopspring/decimal"
)

type productSeed struct {
	ID          int64
	Name        string
	Description string
	Price       string
	Photo       string
}

var products = []productSeed{
	{ID: 1, Name: "Yoga Mat", Description: "Non-slip 6mm mat", Price: "19.99", Photo: "/img/yoga-mat.jpg"},
	{ID: 2, Name: "Resistance Band Set", Description: "Five bands, light to heavy", Price: "24.50", Photo: "/img/bands.jpg"},
	{ID: 3, Name: "Kettlebell 12kg", Description: "Cast iron, powder coated", Price: "42.00", Photo: "/img/kettlebell.jpg"},
	{ID: 4, Name: "Foam Roller", Description: "High density, 45cm", Price: "17.25", Photo: "/img/roller.jpg"},
	{ID: 5, Name: "Jump Rope", Description: "Adjustable steel cable", Price: "9.90"},
}

// Catalog returns the demo products served by the local stub backend.
func Catalog() []stubapi.Product {
	out := make([]stubapi.Product, 0, len(products))
	for _, p := range products {
		out = append(out, stubapi.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       decimal.RequireFromString(p.Price),
			Photo:       p.Photo,
		})
	}
	return out
}

// Apply stocks the demo catalog and puts a couple of lines in the cart.
func Apply(s *stubapi.Server) {
	s.Stock(Catalog()...)
	s.Seed(
		stubapi.Line{ID: 1, ProductID: 1, Quantity: 1},
		stubapi.Line{ID: 2, ProductID: 3, Quantity: 2},
	)
}
