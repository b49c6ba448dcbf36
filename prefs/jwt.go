package prefs

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidJoinJwt = errors.New("invalid join jwt")

// the token a peer presents to join a hosted session
type JoinJwt struct {
	ClientId    Id
	SessionName string
	ExpiresAt   time.Time
}

func NewJoinJwt(secret []byte, clientId Id, sessionName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := gojwt.MapClaims{
		"client_id":    clientId.String(),
		"session_name": sessionName,
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// verifies the signature and expiry
func ParseJoinJwt(secret []byte, jwt string) (*JoinJwt, error) {
	token, err := gojwt.Parse(
		jwt,
		func(token *gojwt.Token) (any, error) {
			return secret, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJoinJwt, err)
	}
	return joinJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

// for display only
func ParseJoinJwtUnverified(jwt string) (*JoinJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJoinJwt, err)
	}
	return joinJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

func joinJwtFromClaims(claims gojwt.MapClaims) (*JoinJwt, error) {
	joinJwt := &JoinJwt{}

	clientIdStr, ok := claims["client_id"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing client_id", ErrInvalidJoinJwt)
	}
	clientId, err := ParseId(clientIdStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJoinJwt, err)
	}
	joinJwt.ClientId = clientId

	if sessionName, ok := claims["session_name"].(string); ok {
		joinJwt.SessionName = sessionName
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		joinJwt.ExpiresAt = expiresAt.Time
	}

	return joinJwt, nil
}
