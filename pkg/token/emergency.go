package token

import (
	stderrors "errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = stderrors.New("token malformed")
	ErrBadSignature = stderrors.New("token signature invalid")
)

// EmergencyClaims 紧急访问令牌的签名载荷。
// 过期、次数、撤销都以存储为准，这里不放 exp。
type EmergencyClaims struct {
	ContactID   string `json:"cid"`
	AccessLevel string `json:"lvl"`
	TokenType   string `json:"typ"`
	jwtv5.RegisteredClaims
}

func (c *EmergencyClaims) TokenID() string {
	return c.ID
}

// Signer 用独立密钥签发和校验紧急访问令牌
type Signer struct {
	secret []byte
	parser *jwtv5.Parser
}

func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		parser: jwtv5.NewParser(jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()})),
	}
}

func (s *Signer) Sign(tokenID, contactID, accessLevel, tokenType string, issuedAt time.Time) (string, error) {
	claims := EmergencyClaims{
		ContactID:   contactID,
		AccessLevel: accessLevel,
		TokenType:   tokenType,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:       tokenID,
			IssuedAt: jwtv5.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign emergency token: %w", err)
	}
	return signed, nil
}

// Parse 校验签名并返回载荷；错误只区分格式错误和签名错误
func (s *Signer) Parse(tokenString string) (*EmergencyClaims, error) {
	claims := &EmergencyClaims{}
	tok, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwtv5.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwtv5.ErrTokenSignatureInvalid) || stderrors.Is(err, jwtv5.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !tok.Valid || claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// PeekTokenID 不校验签名取出 tid，仅用于限流分桶
func PeekTokenID(tokenString string) string {
	claims := &EmergencyClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.ID
}
