package broker

import (
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "nine15-trader/internal/errors"
)

// GenerateTOTP produces the current 2FA code from the account's TOTP secret.
// Used by the login command so the pre-market session refresh can run
// unattended.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", apperrors.Wrap(apperrors.ErrNotAuthenticated, "no TOTP secret configured")
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return "", apperrors.Wrap(err, "generating TOTP code")
	}
	return code, nil
}
