package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Messages returned by the backend auth service for rejected requests.
const (
	MsgInvalidCredentials    = "Invalid login credentials"
	MsgEmailNotConfirmed     = "Email not confirmed"
	MsgUserAlreadyRegistered = "User already registered"
	MsgWeakPassword          = "Password should be at least 6 characters"
)

// ErrNotAuthenticated is returned when an operation needs a signed in user
var ErrNotAuthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode("NOT_AUTHENTICATED").
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileNotFound is returned when no profile row exists for an account
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode("PROFILE_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrProfileExists is returned by a ProfileStore when the insert conflicts
// with an existing row
var ErrProfileExists = goerrors.New("profile already exists", goerrors.CategoryConflict).
	WithTextCode("PROFILE_EXISTS").
	WithCode(goerrors.CodeConflict)

// ErrProfileFetchFailed is returned once profile fetch retries are exhausted
var ErrProfileFetchFailed = goerrors.New("profile fetch failed", goerrors.CategoryInternal).
	WithTextCode("PROFILE_FETCH_FAILED").
	WithCode(goerrors.CodeInternal)

// ErrProfileCreationFailed is returned when a missing profile cannot be created
var ErrProfileCreationFailed = goerrors.New("profile creation failed", goerrors.CategoryOperation).
	WithTextCode("PROFILE_CREATION_FAILED").
	WithCode(goerrors.CodeInternal)

// ErrProfileUpdateFailed is returned when a profile update is rejected
var ErrProfileUpdateFailed = goerrors.New("profile update failed", goerrors.CategoryOperation).
	WithTextCode("PROFILE_UPDATE_FAILED").
	WithCode(goerrors.CodeInternal)

// ErrBootstrapTimeout is returned when the initial session check does not
// answer in time
var ErrBootstrapTimeout = goerrors.New("session check timed out", goerrors.CategoryOperation).
	WithTextCode("BOOTSTRAP_TIMEOUT").
	WithCode(goerrors.CodeInternal)

// ErrNoAuthProvider is returned when the façade is looked up outside a
// provider scope
var ErrNoAuthProvider = goerrors.New(
	"auth provider not found in context: wrap the call tree with auth.WithProvider before using auth.ProviderFromContext",
	goerrors.CategoryInternal,
).WithTextCode("NO_AUTH_PROVIDER")

// ErrDisplayNameTaken is returned by sign up when another profile uses the name
var ErrDisplayNameTaken = goerrors.New("Display name already taken", goerrors.CategoryConflict).
	WithTextCode("DISPLAY_NAME_TAKEN").
	WithCode(goerrors.CodeConflict)

// ErrInvalidSignUp is returned when sign up input fails local validation
var ErrInvalidSignUp = goerrors.New("Missing required sign up fields", goerrors.CategoryValidation).
	WithTextCode("INVALID_SIGN_UP").
	WithCode(goerrors.CodeBadRequest)

// ErrNoSession is returned when the backend accepted a sign in but returned
// no session
var ErrNoSession = goerrors.New("backend returned no session", goerrors.CategoryAuth).
	WithTextCode("NO_SESSION").
	WithCode(goerrors.CodeUnauthorized)

// ErrSignInSuperseded is returned when a sign out landed while the sign in
// was still resolving the profile
var ErrSignInSuperseded = goerrors.New("sign in superseded by sign out", goerrors.CategoryConflict).
	WithTextCode("SIGN_IN_SUPERSEDED").
	WithCode(goerrors.CodeConflict)

// ErrAuthRejected matches every AuthRejectedError
var ErrAuthRejected = goerrors.New("auth request rejected", goerrors.CategoryAuth).
	WithTextCode("AUTH_REJECTED").
	WithCode(goerrors.CodeUnauthorized)

// AuthRejectedError is returned by user initiated actions. Message is the
// formatted text to show the user.
type AuthRejectedError struct {
	Message string
	Cause   error
}

func (e *AuthRejectedError) Error() string {
	return e.Message
}

func (e *AuthRejectedError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrAuthRejected) hold for every rejection.
func (e *AuthRejectedError) Is(target error) bool {
	return target == ErrAuthRejected
}

// IsAuthRejected reports whether err was produced by a rejected user action
func IsAuthRejected(err error) bool {
	var rejected *AuthRejectedError
	return errors.As(err, &rejected)
}

// joinKind keeps both the error kind and its cause reachable by errors.Is
func joinKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
