package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

// User is a row of usuarios.
type User struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DisplayName  string     `gorm:"column:nombreusuario;not null" json:"nombreusuario"`
	Email        string     `gorm:"column:email;not null;uniqueIndex:usuarios_email_key" json:"email"`
	PasswordHash string     `gorm:"column:contrasena_hash;not null" json:"contrasena_hash,omitempty"`
	LocationID   string     `gorm:"column:identificadorubicacion;not null;index" json:"identificadorubicacion"`
	Role         enums.Role `gorm:"column:rol;not null;default:'usuario'" json:"rol"`
	CreatedAt    time.Time  `gorm:"column:fechacreacion;autoCreateTime" json:"fechacreacion"`
}

func (User) TableName() string { return "usuarios" }

// BeforeCreate assigns the id client side so SQLite and Postgres behave alike.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
