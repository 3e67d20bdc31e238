package catalog

import (
	"github.com/google/uuid"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

// NotifyingCategory announces every change before and after it happens.
// Products is a plain slice; membership changes are found by detection.
type NotifyingCategory struct {
	metadata.Notifications

	ID          int
	PrincipalID *int
	Name        string
	Products    []*NotifyingProduct
	TagID       int
	Tag         *NotifyingCategoryTag
}

// SetID writes ID between the change notifications.
func (c *NotifyingCategory) SetID(v int) { c.Notify("ID", func() { c.ID = v }) }

// SetPrincipalID writes PrincipalID between the change notifications.
func (c *NotifyingCategory) SetPrincipalID(v *int) {
	c.Notify("PrincipalID", func() { c.PrincipalID = v })
}

// SetName writes Name between the change notifications.
func (c *NotifyingCategory) SetName(v string) { c.Notify("Name", func() { c.Name = v }) }

// SetTagID writes TagID between the change notifications.
func (c *NotifyingCategory) SetTagID(v int) { c.Notify("TagID", func() { c.TagID = v }) }

// SetTag writes Tag between the change notifications.
func (c *NotifyingCategory) SetTag(v *NotifyingCategoryTag) { c.Notify("Tag", func() { c.Tag = v }) }

// NotifyingCategoryTag is the one-to-one dependent of a notifying category.
type NotifyingCategoryTag struct {
	metadata.Notifications

	ID         int
	CategoryID int
	Category   *NotifyingCategory
}

// SetCategoryID writes CategoryID between the change notifications.
func (t *NotifyingCategoryTag) SetCategoryID(v int) {
	t.Notify("CategoryID", func() { t.CategoryID = v })
}

// SetCategory writes Category between the change notifications.
func (t *NotifyingCategoryTag) SetCategory(v *NotifyingCategory) {
	t.Notify("Category", func() { t.Category = v })
}

// NotifyingProduct announces every change before and after it happens.
type NotifyingProduct struct {
	metadata.Notifications

	ID          uuid.UUID
	DependentID *int
	Name        string
	Category    *NotifyingCategory
	TagID       int
	Tag         *NotifyingProductTag
}

// SetID writes ID between the change notifications.
func (p *NotifyingProduct) SetID(v uuid.UUID) { p.Notify("ID", func() { p.ID = v }) }

// SetDependentID writes DependentID between the change notifications.
func (p *NotifyingProduct) SetDependentID(v *int) {
	p.Notify("DependentID", func() { p.DependentID = v })
}

// SetName writes Name between the change notifications.
func (p *NotifyingProduct) SetName(v string) { p.Notify("Name", func() { p.Name = v }) }

// SetCategory writes Category between the change notifications.
func (p *NotifyingProduct) SetCategory(v *NotifyingCategory) {
	p.Notify("Category", func() { p.Category = v })
}

// SetTagID writes TagID between the change notifications.
func (p *NotifyingProduct) SetTagID(v int) { p.Notify("TagID", func() { p.TagID = v }) }

// SetTag writes Tag between the change notifications.
func (p *NotifyingProduct) SetTag(v *NotifyingProductTag) { p.Notify("Tag", func() { p.Tag = v }) }

// NotifyingProductTag is the one-to-one dependent of a notifying product.
type NotifyingProductTag struct {
	metadata.Notifications

	ID        int
	ProductID int
	Product   *NotifyingProduct
}

// SetProductID writes ProductID between the change notifications.
func (t *NotifyingProductTag) SetProductID(v int) {
	t.Notify("ProductID", func() { t.ProductID = v })
}

// SetProduct writes Product between the change notifications.
func (t *NotifyingProductTag) SetProduct(v *NotifyingProduct) {
	t.Notify("Product", func() { t.Product = v })
}

// NotifyingPerson announces every change before and after it happens.
type NotifyingPerson struct {
	metadata.Notifications

	ID        int
	HusbandID int
	Husband   *NotifyingPerson
	Wife      *NotifyingPerson
}

// SetHusbandID writes HusbandID between the change notifications.
func (p *NotifyingPerson) SetHusbandID(v int) {
	p.Notify("HusbandID", func() { p.HusbandID = v })
}

// SetHusband writes Husband between the change notifications.
func (p *NotifyingPerson) SetHusband(v *NotifyingPerson) {
	p.Notify("Husband", func() { p.Husband = v })
}

// SetWife writes Wife between the change notifications.
func (p *NotifyingPerson) SetWife(v *NotifyingPerson) { p.Notify("Wife", func() { p.Wife = v }) }

// NewNotifyingModel builds the catalog model for the notifying tier.
func NewNotifyingModel() (*metadata.Model, error) {
	b := metadata.NewBuilder()
	b.Entity(&NotifyingCategory{})
	b.Entity(&NotifyingCategoryTag{})
	b.Entity(&NotifyingProduct{})
	b.Entity(&NotifyingProductTag{})
	b.Entity(&NotifyingPerson{})

	b.HasOne(&NotifyingProduct{}, "Tag").WithOne("Product").
		ForeignKeyOn(&NotifyingProductTag{}, "ProductID").
		PrincipalKey("TagID")
	b.HasMany(&NotifyingCategory{}, "Products").WithOne("Category").
		ForeignKey("DependentID").
		PrincipalKey("PrincipalID")
	b.HasOne(&NotifyingCategory{}, "Tag").WithOne("Category").
		ForeignKeyOn(&NotifyingCategoryTag{}, "CategoryID").
		PrincipalKey("TagID")
	b.HasOne(&NotifyingPerson{}, "Husband").WithOne("Wife").
		ForeignKeyOn(&NotifyingPerson{}, "HusbandID")

	return b.Build()
}
