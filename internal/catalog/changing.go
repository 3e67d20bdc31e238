package catalog

import (
	"github.com/google/uuid"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

// ChangingCategory announces changes before they happen.
type ChangingCategory struct {
	metadata.ChangingNotifications

	ID          int
	PrincipalID *int
	Name        string
	Products    []*ChangingProduct
}

// SetPrincipalID changes the key products refer to.
func (c *ChangingCategory) SetPrincipalID(v *int) {
	c.Notify("PrincipalID", func() { c.PrincipalID = v })
}

// SetName renames the category.
func (c *ChangingCategory) SetName(v string) {
	c.Notify("Name", func() { c.Name = v })
}

// ChangingProduct announces changes before they happen.
type ChangingProduct struct {
	metadata.ChangingNotifications

	ID          uuid.UUID
	DependentID *int
	Name        string
	Category    *ChangingCategory
}

// SetDependentID moves the product to the category with key v.
func (p *ChangingProduct) SetDependentID(v *int) {
	p.Notify("DependentID", func() { p.DependentID = v })
}

// SetName renames the product.
func (p *ChangingProduct) SetName(v string) {
	p.Notify("Name", func() { p.Name = v })
}

// SetCategory moves the product to category c.
func (p *ChangingProduct) SetCategory(c *ChangingCategory) {
	p.Notify("Category", func() { p.Category = c })
}

// NewChangingModel builds the catalog model for the changing tier.
func NewChangingModel() (*metadata.Model, error) {
	b := metadata.NewBuilder()
	b.Entity(&ChangingCategory{})
	b.Entity(&ChangingProduct{})

	b.HasMany(&ChangingCategory{}, "Products").WithOne("Category").
		ForeignKey("DependentID").
		PrincipalKey("PrincipalID")

	return b.Build()
}
