package common

// RefreshTokenCookieName is the cookie that carries the encoded refresh token.
const RefreshTokenCookieName = "refreshToken"

// RefreshTokenDelimiter separates the public id from the secret in an encoded
// refresh token. Neither hex nor base64url output contains it.
const RefreshTokenDelimiter = "."
