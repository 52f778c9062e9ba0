package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a row of productos, scoped to one location.
type Product struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:nombreproducto;not null" json:"nombreproducto"`
	Description string    `gorm:"column:descripcion;not null;default:''" json:"descripcion"`
	LocationID  string    `gorm:"column:identificadorubicacion;not null;index" json:"identificadorubicacion"`
}

func (Product) TableName() string { return "productos" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
