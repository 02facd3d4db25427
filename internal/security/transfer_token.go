package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad signature or fails claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token is correctly signed but past its expiry.
	// Verify also returns the claims in that case so the caller can act on the bound transfer.
	ErrTokenExpired = errors.New("token expired")
)

// transferAudience scopes validation tokens so they cannot be replayed as any other kind of token.
const transferAudience = "ownership-transfer"

// TransferClaims binds a validation token to one transfer. The token grants nothing by itself;
// it only proves the proposed owner was handed this specific request.
type TransferClaims struct {
	jwt.RegisteredClaims
	TransferID      string `json:"transfer_id"`
	OrgID           string `json:"org_id"`
	CurrentOwnerID  string `json:"current_owner_id"`
	ProposedOwnerID string `json:"proposed_owner_id"`
}

// TransferBinding is what a validation token is issued for.
type TransferBinding struct {
	TransferID      string
	OrgID           string
	CurrentOwnerID  string
	ProposedOwnerID string
	ExpiresAt       time.Time
}

// TransferTokenIssuer issues and verifies single-use transfer validation tokens with RS256 or ES256.
// Single use is enforced by the caller recording consumed token ids.
type TransferTokenIssuer struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	now        func() time.Time
}

// NewTransferTokenIssuer returns an issuer that signs with privateKey and verifies with publicKey.
func NewTransferTokenIssuer(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string) *TransferTokenIssuer {
	return &TransferTokenIssuer{privateKey: privateKey, publicKey: publicKey, issuer: issuer, now: time.Now}
}

// Issue signs a token for b and returns it with its jti. The token expires exactly at b.ExpiresAt.
func (p *TransferTokenIssuer) Issue(b TransferBinding) (token, jti string, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", err
	}
	claims := TransferClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   b.ProposedOwnerID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{transferAudience},
			IssuedAt:  jwt.NewNumericDate(p.now().UTC()),
			ExpiresAt: jwt.NewNumericDate(b.ExpiresAt.UTC()),
		},
		TransferID:      b.TransferID,
		OrgID:           b.OrgID,
		CurrentOwnerID:  b.CurrentOwnerID,
		ProposedOwnerID: b.ProposedOwnerID,
	}
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", "", ErrInvalidKey
	}
	token, err = jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
	return token, jti, err
}

// Verify checks signature, issuer, audience and expiry. A correctly signed but expired token yields its
// claims together with ErrTokenExpired; every other failure yields ErrInvalidToken and nil claims.
func (p *TransferTokenIssuer) Verify(tokenString string) (*TransferClaims, error) {
	alg := KeyAlg(p.publicKey)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	claims := &TransferClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(transferAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		// Only the expiry may fail for the claims of an expired token to be trusted.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
			claims.Issuer == p.issuer && hasAudience(claims.Audience) && bound(claims) {
			return claims, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !bound(claims) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bound(c *TransferClaims) bool {
	return c.ID != "" && c.TransferID != "" && c.OrgID != "" && c.CurrentOwnerID != "" && c.ProposedOwnerID != ""
}

func hasAudience(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if a == transferAudience {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
