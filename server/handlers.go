package server

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-knowly-auth/provider/gotrue"
	"github.com/goliatone/go-knowly-auth/provider/local"
)

var errNoAPIKey = goerrors.New("No API key found in request", goerrors.CategoryAuth).
	WithTextCode("no_api_key").
	WithCode(goerrors.CodeUnauthorized)

var errForbidden = goerrors.New("User not allowed", goerrors.CategoryAuthz).
	WithTextCode("not_admin").
	WithCode(goerrors.CodeForbidden)

var errNoAuthorization = goerrors.New("This endpoint requires a Bearer token", goerrors.CategoryAuth).
	WithTextCode("no_authorization").
	WithCode(goerrors.CodeUnauthorized)

var errUnsupportedGrant = goerrors.New("unsupported grant_type", goerrors.CategoryValidation).
	WithTextCode("unsupported_grant_type").
	WithCode(goerrors.CodeBadRequest)

// PasswordGrantPayload is the password grant body
type PasswordGrantPayload gotrue.PasswordGrantRequest

// Validate will validate the payload
func (r PasswordGrantPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshGrantPayload is the refresh grant body
type RefreshGrantPayload gotrue.RefreshGrantRequest

// Validate will validate the payload
func (r RefreshGrantPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// SignUpPayload is the sign up body
type SignUpPayload gotrue.SignUpRequest

// Validate will validate the payload
func (r SignUpPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// ConfirmPayload is the admin confirmation body
type ConfirmPayload gotrue.ConfirmRequest

// Validate will validate the payload
func (r ConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type validatable interface {
	Validate() error
}

func bind(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "Could not parse request body").
			WithTextCode("bad_json").
			WithCode(goerrors.CodeBadRequest)
	}
	if err := payload.Validate(); err != nil {
		return goerrors.New(err.Error(), goerrors.CategoryValidation).
			WithTextCode(local.TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(gotrue.HealthResponse{Name: Name, Version: s.version})
}

func (s *Server) token(c *fiber.Ctx) error {
	switch c.Query("grant_type") {
	case gotrue.GrantPassword:
		payload := new(PasswordGrantPayload)
		if err := bind(c, payload); err != nil {
			return err
		}
		session, err := s.accounts.Authenticate(c.UserContext(), payload.Email, payload.Password)
		if err != nil {
			return err
		}
		return c.JSON(gotrue.TokenFromSession(session, s.now()))

	case gotrue.GrantRefreshToken:
		payload := new(RefreshGrantPayload)
		if err := bind(c, payload); err != nil {
			return err
		}
		session, err := s.accounts.Refresh(c.UserContext(), payload.RefreshToken)
		if err != nil {
			return err
		}
		return c.JSON(gotrue.TokenFromSession(session, s.now()))

	default:
		return errUnsupportedGrant
	}
}

func (s *Server) signUp(c *fiber.Ctx) error {
	payload := new(SignUpPayload)
	if err := bind(c, payload); err != nil {
		return err
	}

	account, session, err := s.accounts.Register(c.UserContext(), payload.Email, payload.Password, payload.Data)
	if err != nil {
		return err
	}

	if session != nil {
		return c.JSON(gotrue.TokenFromSession(session, s.now()))
	}
	return c.JSON(gotrue.UserFromAccount(*account))
}

func (s *Server) logout(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return errNoAuthorization
	}

	account, err := s.accounts.AccountFromToken(c.UserContext(), token)
	if err != nil {
		return err
	}

	if err := s.accounts.RevokeAll(c.UserContext(), account.ID); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) user(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return errNoAuthorization
	}

	account, err := s.accounts.AccountFromToken(c.UserContext(), token)
	if err != nil {
		return err
	}

	return c.JSON(gotrue.UserFromAccount(*account))
}

func (s *Server) confirm(c *fiber.Ctx) error {
	payload := new(ConfirmPayload)
	if err := bind(c, payload); err != nil {
		return err
	}

	account, err := s.accounts.ConfirmEmail(c.UserContext(), payload.Email)
	if err != nil {
		return err
	}

	return c.JSON(gotrue.UserFromAccount(*account))
}
