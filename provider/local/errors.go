package local

import (
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-knowly-auth"
)

// Text codes follow the GoTrue error_code values so clients can match on them.
const (
	TextCodeInvalidCredentials  = "invalid_credentials"
	TextCodeEmailNotConfirmed   = "email_not_confirmed"
	TextCodeUserAlreadyExists   = "user_already_exists"
	TextCodeWeakPassword        = "weak_password"
	TextCodeValidationFailed    = "validation_failed"
	TextCodeInvalidRefreshToken = "refresh_token_not_found"
	TextCodeBadJWT              = "bad_jwt"
	TextCodeSessionExpired      = "session_expired"
	TextCodeUserNotFound        = "user_not_found"
)

// ErrInvalidCredentials is returned for an unknown e-mail or a wrong password
var ErrInvalidCredentials = goerrors.New(auth.MsgInvalidCredentials, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailNotConfirmed is returned when sign in requires a confirmed e-mail
var ErrEmailNotConfirmed = goerrors.New(auth.MsgEmailNotConfirmed, goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(goerrors.CodeBadRequest)

// ErrUserAlreadyRegistered is returned when the e-mail is taken
var ErrUserAlreadyRegistered = goerrors.New(auth.MsgUserAlreadyRegistered, goerrors.CategoryConflict).
	WithTextCode(TextCodeUserAlreadyExists).
	WithCode(goerrors.CodeBadRequest)

// ErrWeakPassword is returned when the password is too short
var ErrWeakPassword = goerrors.New(auth.MsgWeakPassword, goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidEmail is returned when the e-mail address is malformed
var ErrInvalidEmail = goerrors.New("Unable to validate email address: invalid format", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRefreshToken is returned for unknown, revoked or expired refresh tokens
var ErrInvalidRefreshToken = goerrors.New("Invalid Refresh Token: Refresh Token Not Found", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidRefreshToken).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned when the access token expired
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when the access token cannot be parsed
var ErrTokenMalformed = goerrors.New("invalid JWT: unable to parse or verify signature", goerrors.CategoryAuth).
	WithTextCode(TextCodeBadJWT).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotFound is returned when a confirmation targets an unknown account
var ErrUserNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)
