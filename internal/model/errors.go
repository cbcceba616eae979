package model

import "errors"

// Ошибки валидации входных данных.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNoValidItems        = errors.New("no valid products found for checkout")
	ErrZeroTotal           = errors.New("total amount must be greater than zero")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPaymentNotSuccessful возвращается, если шлюз не подтвердил оплату.
	ErrPaymentNotSuccessful = errors.New("payment not successful")
)

// Ошибки поиска и прав доступа.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrForbidden          = errors.New("forbidden")
)

// Ошибки состояний.
var (
	// ErrInvalidTransition возвращается, если переход заказа недопустим из текущего состояния.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyProcessed возвращается при повторной обработке заявки, которая уже не в статусе pending.
	ErrAlreadyProcessed = errors.New("already processed")
)
