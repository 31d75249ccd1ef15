package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password are required")
	ErrEmailAlreadyExists       = errors.New("email already exists")

	// ErrInvalidCredentials is shown to end users and deliberately does
	// not distinguish unknown email from wrong password.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	ErrForbidden = errors.New("you cannot modify another user's books")
	ErrNotFound  = errors.New("book not found")

	ErrMissingImage = errors.New("a cover image is required")
	ErrInvalidGrade = errors.New("rating must be between 0 and 5")
)
