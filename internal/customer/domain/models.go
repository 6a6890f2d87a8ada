package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"not null" json:"name"`
	Email       string            `gorm:"not null" json:"email"`
	Phone       string            `gorm:"column:phone" json:"phone,omitempty"`
	AddressLine string            `gorm:"column:address_line" json:"address_line,omitempty"`
	City        string            `gorm:"column:city" json:"city,omitempty"`
	State       string            `gorm:"column:state" json:"state,omitempty"`
	Pincode     string            `gorm:"column:pincode" json:"pincode,omitempty"`
	Country     string            `gorm:"column:country" json:"country,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
