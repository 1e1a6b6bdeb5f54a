package middleware

import (
	"errors"
	"net/http"
	"strings"

	"marketplace/internal/model"
	"marketplace/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the "role" claim. Tokens are issued by the identity service.
const (
	RoleAdmin    = model.RoleAdmin
	RoleCompany  = model.RoleCompany
	RoleProvider = model.RoleProvider
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the subset of the access token the API relies on.
type Claims struct {
	UserID uuid.UUID
	Role   string
}

// ParseToken verifies an HMAC-signed token and extracts sub and role.
func ParseToken(tokenString string, secret []byte) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	sub, _ := mc["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, _ := mc["role"].(string)
	if role == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{UserID: userID, Role: role}, nil
}

// Auth validates access tokens for route groups.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

func (a *Auth) Secret() []byte {
	return a.secret
}

// RequireRole validates the JWT token and checks the role claim against allowedRoles.
// An empty allowedRoles accepts any authenticated user.
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		claims, err := ParseToken(tokenString, a.secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		if len(allowedRoles) > 0 {
			roleAllowed := false
			for _, role := range allowedRoles {
				if claims.Role == role {
					roleAllowed = true
					break
				}
			}
			if !roleAllowed {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
				return
			}
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserRole, claims.Role)

		c.Next()
	}
}

// CurrentUser returns the authenticated user set by RequireRole.
func CurrentUser(c *gin.Context) (uuid.UUID, string) {
	id, _ := c.Get(ctxUserID)
	role, _ := c.Get(ctxUserRole)
	userID, _ := id.(uuid.UUID)
	userRole, _ := role.(string)
	return userID, userRole
}
