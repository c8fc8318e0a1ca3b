package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// identityClaims はIDトークンのクレーム。
type identityClaims struct {
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のIDトークンを発行・検証する。
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey, ttl: ttl}
}

// Issue はuidと電話番号に対するIDハンドルをトークン付きで発行する。
func (t *TokenIssuer) Issue(uid, phoneNumber string) (*model.IdentityHandle, error) {
	issuedAt := time.Now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(t.ttl)

	claims := identityClaims{
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign identity token: %w", err)
	}

	return &model.IdentityHandle{
		ID:          uid,
		PhoneNumber: phoneNumber,
		Token:       signed,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify はトークンの署名と有効期限を検証し、IDハンドルを復元する。
func (t *TokenIssuer) Verify(token string) (*model.IdentityHandle, error) {
	claims := &identityClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid identity token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid identity token")
	}
	// expを持たないトークンはjwtの検証を通過するため明示的に拒否する
	if claims.ExpiresAt == nil {
		return nil, errors.New("identity token has no expiry")
	}
	if claims.Subject == "" || claims.PhoneNumber == "" {
		return nil, errors.New("identity token missing subject or phone number")
	}

	h := &model.IdentityHandle{
		ID:          claims.Subject,
		PhoneNumber: claims.PhoneNumber,
		Token:       token,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		h.IssuedAt = claims.IssuedAt.Time
	}
	return h, nil
}
