package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderNoReferencePrice  = errors.New("order: no reference price")
	ErrOrderInsufficientFunds = errors.New("order: insufficient capital")
	ErrOrderInvalidQuantity   = errors.New("order: invalid quantity")
	ErrOrderUnknownAction     = errors.New("order: unknown action")
	ErrOrderNilBroker         = errors.New("order: nil broker")
)
