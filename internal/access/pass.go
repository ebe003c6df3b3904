package access

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const passIssuer = "lockd"

var ErrInvalidPass = errors.New("invalid access pass")

// PassIssuer signs short-lived passes proving a wallet cleared a chat's gate.
type PassIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewPassIssuer(secret string, ttl time.Duration) *PassIssuer {
	return &PassIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (p *PassIssuer) Issue(chatID, wallet string) (string, time.Time, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    passIssuer,
		Subject:   wallet,
		Audience:  jwt.ClaimStrings{chatID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks that token is an unexpired pass for wallet in chatID.
func (p *PassIssuer) Verify(token, chatID, wallet string) error {
	if token == "" {
		return ErrInvalidPass
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(passIssuer),
		jwt.WithAudience(chatID),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return errors.Join(ErrInvalidPass, err)
	}
	if claims.Subject != wallet {
		return ErrInvalidPass
	}
	return nil
}
