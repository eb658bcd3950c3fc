package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"acquisition-service/pkg/config"
	"acquisition-service/pkg/errno"
	"acquisition-service/pkg/restapi"
)

// JWTAuthMiddleware 校验 Bearer token，未启用时直接放行
// 通过后把 subject 作为操作人
func JWTAuthMiddleware(cfg config.JWTConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	secret := []byte(cfg.Secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			restapi.Failed(c, errno.ErrUnauthorized.WithMessage("missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			if err == nil {
				err = errors.New("invalid token")
			}
			restapi.Failed(c, errno.ErrUnauthorized.WithMessage("%s", err.Error()))
			return
		}
		if claims.Subject != "" {
			c.Set(ActorKey, claims.Subject)
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
