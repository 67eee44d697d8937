package engine

import "perp-market/src/apperr"

var (
	ErrUnsupportedSettlementToken = apperr.New(apperr.KindUnsupported, "UnsupportedSettlementToken", "settlement tokens other than the primary quote token are not supported")
	ErrPerpsNotSupported          = apperr.New(apperr.KindUnsupported, "PerpsNotSupported", "group does not support perp markets")

	ErrNameTooLong        = apperr.New(apperr.KindValidation, "NameTooLong", "market name exceeds 16 bytes")
	ErrInvalidLotSize     = apperr.New(apperr.KindValidation, "InvalidLotSize", "lot sizes must be positive")
	ErrInvalidRiskWeights = apperr.New(apperr.KindValidation, "InvalidRiskWeights", "risk weights out of range")
	ErrInvalidFee         = apperr.New(apperr.KindValidation, "InvalidFee", "fee out of range")
	ErrInvalidFunding     = apperr.New(apperr.KindValidation, "InvalidFundingBounds", "min funding exceeds max funding")
	ErrInvalidOrder       = apperr.New(apperr.KindValidation, "InvalidOrder", "invalid order")
	ErrDuplicateClientID  = apperr.New(apperr.KindValidation, "DuplicateClientOrderID", "owner already has a resting order with this client order id")
	ErrFeesOverSettled    = apperr.New(apperr.KindValidation, "FeesOverSettled", "settled fees would exceed accrued fees")

	ErrOrderNotFound = apperr.New(apperr.KindNotFound, "OrderNotFound", "order not found")

	ErrBookFull      = apperr.New(apperr.KindCapacity, "BookFull", "book side is full")
	ErrQueueOverflow = apperr.New(apperr.KindCapacity, "QueueOverflow", "event queue is full")

	ErrNegativeOpenInterest = apperr.New(apperr.KindInvariant, "NegativeOpenInterest", "open interest would become negative")

	ErrNotAdmin          = apperr.New(apperr.KindPermission, "NotAdmin", "signer is not the group admin")
	ErrOperationDisabled = apperr.New(apperr.KindPermission, "OperationDisabled", "operation is disabled by governance")
)
