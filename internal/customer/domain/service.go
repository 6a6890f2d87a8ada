package domain

import (
	"context"
	"errors"
)

type CreateCustomerRequest struct {
	Name        string
	Email       string
	Phone       string
	AddressLine string
	City        string
	State       string
	Pincode     string
	Country     string
}

type GetCustomerRequest struct {
	ID string
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	GetByID(context.Context, GetCustomerRequest) (Customer, error)
}

var (
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidAddress = errors.New("invalid_address")
	ErrInvalidID      = errors.New("invalid_id")
	ErrNotFound       = errors.New("not_found")
)
