package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenRevoked       ErrCode = "TOKEN_REVOKED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRateLimitExceeded   ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"
	ErrInternal            ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Неверное имя пользователя или пароль."
	case ErrTokenRequired:
		return "Требуется токен авторизации."
	case ErrTokenInvalid:
		return "Недействительный токен авторизации."
	case ErrTokenRevoked:
		return "Сеанс завершён. Войдите снова."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrAdminAccessOnly:
		return "Ресурс доступен только администратору."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Ошибка проверки данных. Проверьте введённые значения."
	case ErrInvalidID:
		return "Неверный формат идентификатора."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Ресурс не найден."
	case ErrSessionNotFound:
		return "Активная сессия теста не найдена."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Слишком много запросов. Повторите попытку позже."
	case ErrUpstreamUnavailable:
		return "Внешний сервис временно недоступен."
	case ErrInternal:
		return "Внутренняя ошибка сервера."
	default:
		return "Произошла непредвиденная ошибка."
	}
}
