package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "trustnet/pkg/domain-errors"
)

// DefaultApprovalTTL bounds how long a second approver's consent stays usable.
const DefaultApprovalTTL = 10 * time.Minute

// ApprovalClaims is the signed consent of a second approver for one governed action.
type ApprovalClaims struct {
	Role     string `json:"role"`
	Action   string `json:"action"`
	EntityID string `json:"entity_id,omitempty"`
	jwt.RegisteredClaims
}

// ApproverID returns the approving principal.
func (c *ApprovalClaims) ApproverID() string {
	return c.Subject
}

// ApprovalService signs and checks approval tokens. It uses a key separate from the
// access token key so a leaked access token key cannot forge approvals.
type ApprovalService struct {
	signingKey []byte
	issuer     string
}

func NewApprovalService(signingKey string, issuer string) *ApprovalService {
	return &ApprovalService{signingKey: []byte(signingKey), issuer: issuer}
}

// GenerateApprovalToken signs approverID's consent to action.
func (s *ApprovalService) GenerateApprovalToken(approverID, role, entityID, action string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = DefaultApprovalTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ApprovalClaims{
		Role:     role,
		Action:   action,
		EntityID: entityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approverID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateApprovalToken verifies the signature and expiry and that the token was
// issued for action. All failures carry CodeMultiPartyRequired: the request lacks
// a usable second approval.
func (s *ApprovalService) ValidateApprovalToken(tokenString, action string) (*ApprovalClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ApprovalClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeMultiPartyRequired, "approval token has expired")
		}
		return nil, dErrors.New(dErrors.CodeMultiPartyRequired, "invalid approval token")
	}
	claims, ok := parsed.Claims.(*ApprovalClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Role == "" {
		return nil, dErrors.New(dErrors.CodeMultiPartyRequired, "invalid approval token claims")
	}
	if claims.Action != action {
		return nil, dErrors.Newf(dErrors.CodeMultiPartyRequired, "approval token was issued for %q, not %q", claims.Action, action)
	}
	return claims, nil
}
