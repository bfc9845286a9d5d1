package response

const (
	CodeAccessTokenExpired   = "ACCESS_TOKEN_EXPIRED"
	CodeAccessTokenInvalid   = "ACCESS_TOKEN_INVALID"
	CodeRefreshTokenNotFound = "REFRESH_TOKEN_NOT_FOUND"
	CodeRefreshTokenRevoked  = "REFRESH_TOKEN_REVOKED"
	CodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeUserExists           = "USER_EXISTS"
	CodeValidation           = "VALIDATION_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeInternal             = "INTERNAL_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeDependencyUnready    = "DEPENDENCY_UNREADY"
)
