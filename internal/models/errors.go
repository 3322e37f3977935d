package models

import (
	"errors"
)

var (
	ErrCatalogUnavailable  = errors.New("models: vip catalog unavailable")
	ErrOrderCreationFailed = errors.New("models: order creation failed")
	ErrDispatchFailed      = errors.New("models: payment dispatch failed")
	ErrPaymentDeclined     = errors.New("models: payment declined by shell")
	ErrSessionNotFound     = errors.New("models: purchase session not found")
	ErrPackageNotFound     = errors.New("models: package not found")
)
