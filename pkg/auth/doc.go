// Package auth implements the token service and password hashing.
//
// # Signed Tokens
//
// Access and refresh tokens are HS256 JWTs with the claim shape {id, email} plus
// standard iat/exp/jti. Each kind has its own secret and lifetime:
//
//	tokens, _ := auth.NewTokenService(auth.TokenConfig{
//		AccessSecret:  cfg.AccessSecret,
//		AccessTTL:     24 * time.Hour,
//		RefreshSecret: cfg.RefreshSecret,
//		RefreshTTL:    30 * 24 * time.Hour,
//	})
//	pair, _ := tokens.IssuePair(user.ID, user.Email)
//
// Verification distinguishes ErrTokenExpired from ErrTokenInvalid so the session
// layer can attempt a refresh only for tokens that were genuine but stale.
//
// A refresh token is only usable while it equals the value stored on the user; the
// store performs that comparison, not this package.
//
// # Temporary Tokens
//
// Email verification and password reset links carry a 64 character hex token built
// from 32 random bytes. Only its SHA-256 digest and expiry are persisted:
//
//	tmp, _ := tokens.IssueTemporaryToken()
//	store.SetVerificationToken(ctx, user.ID, tmp.Digest, tmp.ExpiresAt)
//	send(link + tmp.Plaintext)
//
// # Passwords
//
// Passwords are hashed with bcrypt at the default cost.
package auth
