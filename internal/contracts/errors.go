package contracts

import "errors"

// Error kinds shared by every stage of the allocation pipeline
// ⭐ SSOT: 수치적 퇴화는 모두 여기 정의된 에러로만 표현 (0/NaN 비중으로 변환 금지)
var (
	ErrInsufficientData       = errors.New("insufficient data")
	ErrDegenerateInput        = errors.New("degenerate input")
	ErrDegenerateOptimization = errors.New("degenerate optimization")
	ErrConstraintInfeasible   = errors.New("constraint infeasible")
	ErrAlignment              = errors.New("alignment error")
	ErrDivideByZero           = errors.New("divide by zero")
)

// ErrorKind returns a stable label for err, used by API responses and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, ErrDegenerateOptimization):
		return "degenerate_optimization"
	case errors.Is(err, ErrConstraintInfeasible):
		return "constraint_infeasible"
	case errors.Is(err, ErrAlignment):
		return "alignment"
	case errors.Is(err, ErrDivideByZero):
		return "divide_by_zero"
	default:
		return "internal"
	}
}

// IsDomainError reports whether err is one of the named pipeline failures.
func IsDomainError(err error) bool {
	k := ErrorKind(err)
	return k != "" && k != "internal"
}
