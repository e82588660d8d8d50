package jwttoken

import (
	"trustnet/pkg/requestcontext"
)

func ToCaller(claims *Claims) requestcontext.Caller {
	return requestcontext.Caller{
		ID:       claims.Subject,
		Role:     claims.Role,
		EntityID: claims.EntityID,
	}
}

// JWTServiceAdapter exposes the JWT service in the shape the auth middleware consumes.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateCaller(tokenString string) (requestcontext.Caller, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return requestcontext.Caller{}, err
	}
	return ToCaller(claims), nil
}
