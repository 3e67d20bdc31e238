// Package catalog is a small product catalog domain used by the demo command
// and by tests. It has one model per tracking tier.
package catalog

import (
	"github.com/google/uuid"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

// Category groups products. PrincipalID is the key products refer to and
// TagID the key its tag refers to.
type Category struct {
	ID          int
	PrincipalID *int
	Name        string
	Products    []*Product
	TagID       int
	Tag         *CategoryTag
}

// CategoryTag is the one-to-one dependent of a category.
type CategoryTag struct {
	ID         int
	CategoryID int
	Category   *Category
}

// Product belongs to at most one category.
type Product struct {
	ID          uuid.UUID
	DependentID *int
	Name        string
	Category    *Category
	TagID       int
	Tag         *ProductTag
}

// ProductTag is the one-to-one dependent of a product.
type ProductTag struct {
	ID        int
	ProductID int
	Product   *Product
}

// Person is married to at most one other person. The wife holds the
// foreign key to her husband.
type Person struct {
	ID        int
	HusbandID int
	Husband   *Person
	Wife      *Person
}

// NewModel builds the eager model of the catalog.
func NewModel() (*metadata.Model, error) {
	b := metadata.NewBuilder()
	b.Entity(&Category{})
	b.Entity(&CategoryTag{})
	b.Entity(&Product{})
	b.Entity(&ProductTag{})
	b.Entity(&Person{})

	b.HasOne(&Product{}, "Tag").WithOne("Product").
		ForeignKeyOn(&ProductTag{}, "ProductID").
		PrincipalKey("TagID")
	b.HasMany(&Category{}, "Products").WithOne("Category").
		ForeignKey("DependentID").
		PrincipalKey("PrincipalID")
	b.HasOne(&Category{}, "Tag").WithOne("Category").
		ForeignKeyOn(&CategoryTag{}, "CategoryID").
		PrincipalKey("TagID")
	b.HasOne(&Person{}, "Husband").WithOne("Wife").
		ForeignKeyOn(&Person{}, "HusbandID")

	return b.Build()
}

// Int returns a pointer to v, for nullable keys.
func Int(v int) *int {
	return &v
}
