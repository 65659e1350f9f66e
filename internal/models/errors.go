package models

import "errors"

// Отказы риск-движка (ValidationRejection): сигнал не прошёл правило,
// ретраев нет, стратегия может пересигналить позже.
var (
	ErrRegimeBlocked      = errors.New("long entries blocked by regime filter")
	ErrPositionExists     = errors.New("position already open for symbol")
	ErrMaxPositions       = errors.New("max open positions reached")
	ErrRiskBudgetExceeded = errors.New("total risk budget exceeded")
	ErrNotionalTooSmall   = errors.New("order notional below exchange minimum")
	ErrNotionalTooLarge   = errors.New("order notional above exchange maximum")
	ErrRiskRewardTooLow   = errors.New("risk/reward ratio below minimum")
	ErrConflictingSignal  = errors.New("conflicting signal for symbol in same cycle")
	ErrZeroBalance        = errors.New("zero or negative balance")
)

var (
	// ErrStaleSnapshot — снапшот индикаторов старше порога (fail-safe).
	ErrStaleSnapshot = errors.New("indicator snapshot is stale")
	// ErrSubmissionFailed — биржа отклонила ордер или вышел таймаут,
	// резервация откатывается.
	ErrSubmissionFailed = errors.New("order submission failed")
	// ErrUnknownPosition — операция над позицией, которой нет в стейте.
	ErrUnknownPosition = errors.New("position not found")
	// ErrDoubleRelease — попытка освободить уже освобождённую резервацию.
	ErrDoubleRelease = errors.New("risk reservation already released")
)

// IsValidationRejection — принадлежит ли ошибка к классу отказов,
// которые логируются без ретрая.
func IsValidationRejection(err error) bool {
	for _, e := range []error{
		ErrRegimeBlocked, ErrPositionExists, ErrMaxPositions,
		ErrRiskBudgetExceeded, ErrNotionalTooSmall, ErrNotionalTooLarge,
		ErrRiskRewardTooLow, ErrConflictingSignal, ErrZeroBalance,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
