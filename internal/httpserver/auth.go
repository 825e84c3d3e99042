package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyHostID    = "host_id"
	bearerPrefix        = "Bearer "
	headerAuthorization = "Authorization"
)

// HostClaims carry the authenticated host identity. Guests never
// authenticate; only host-side session management is behind this.
type HostClaims struct {
	HostID string `json:"host_id"`
	jwt.RegisteredClaims
}

// SignHostToken mints an HS256 bearer token for a host.
func SignHostToken(signingKey string, hostID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(hostID) == "" {
		return "", errors.New("host id is required")
	}
	now := time.Now()
	claims := HostClaims{
		HostID: hostID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingKey))
}

func parseHostToken(signingKey string, raw string) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(signingKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.HostID) == "" {
		return nil, errors.New("invalid host token")
	}
	return claims, nil
}

// requireHost rejects requests without a valid host bearer token and exposes
// the host id to handlers.
func requireHost(signingKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader(headerAuthorization)
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims, err := parseHostToken(signingKey, strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		ctx.Set(contextKeyHostID, claims.HostID)
		ctx.Next()
	}
}

func hostIDFromContext(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeyHostID)
	if !ok {
		return ""
	}
	hostID, _ := value.(string)
	return hostID
}
