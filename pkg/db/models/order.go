package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

// Order is a row of pedidos. Sheet holds the hojadepedido JSON document as
// written by the submitter; readers must tolerate legacy encodings.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID    uuid.UUID         `gorm:"column:usuario_id;type:uuid;not null;index" json:"usuario_id"`
	OwnerName  string            `gorm:"column:nombreusuario;not null;default:''" json:"nombreusuario"`
	LocationID string            `gorm:"column:identificadorubicacion;not null" json:"identificadorubicacion"`
	Sheet      datatypes.JSON    `gorm:"column:hojadepedido;not null" json:"hojadepedido"`
	Status     enums.OrderStatus `gorm:"column:estadopedido;not null" json:"estadopedido"`
	CreatedAt  time.Time         `gorm:"column:fechacreacion;autoCreateTime;index" json:"fechacreacion"`
}

func (Order) TableName() string { return "pedidos" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
