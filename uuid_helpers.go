package auth

import "github.com/google/uuid"

func ensureTokenID(claims *JWTClaims) {
	if claims != nil && claims.RegisteredClaims.ID == "" {
		claims.RegisteredClaims.ID = uuid.NewString()
	}
}
