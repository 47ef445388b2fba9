package credential

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// RoleFromToken reads the role claim without verifying the signature.
// The result is a local hint only and never authorizes anything.
func RoleFromToken(token string) (models.Role, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Token is not a JWT", err.Error())
	}

	if role, ok := claims["role"].(string); ok && role != "" {
		return models.ParseRole(role), nil
	}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		if role, ok := user["role"].(string); ok && role != "" {
			return models.ParseRole(role), nil
		}
	}
	return "", utils.NewAppError(utils.ErrCodeValidation, "Token carries no role claim")
}

// Resolve picks the session credentials: configured values first, then the keyring,
// then the token's role claim for a missing role
func Resolve(cfg *config.SessionConfig, store *Store) (Credentials, error) {
	creds := Credentials{
		Token: strings.TrimSpace(cfg.Token),
		Role:  models.ParseRole(cfg.Role),
	}

	if store != nil && (creds.Token == "" || creds.Role == "") {
		cached, err := store.Load()
		switch {
		case err == nil:
			if creds.Token == "" {
				creds.Token = cached.Token
			}
			if creds.Role == "" {
				creds.Role = cached.Role
			}
		case !errors.Is(err, ErrNotFound):
			utils.ComponentLogger("credential").WithError(err).Warn("Failed to read cached credentials")
		}
	}

	if creds.Token == "" {
		return creds, utils.NewAppError(utils.ErrCodeAuthRequired, "No token available. Run 'notifier login' or set session.token")
	}

	if creds.Role == "" {
		role, err := RoleFromToken(creds.Token)
		if err != nil {
			utils.ComponentLogger("credential").WithError(err).Debug("No role hint in token")
		}
		creds.Role = role
	}
	return creds, nil
}
