package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/internal/service"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.token = token
	return s.claims, s.err
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/teachers/:id/availability", handlers...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/teachers/teacher-1/availability", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	r := newRouter(JWT(&stubValidator{claims: &models.JWTClaims{UserID: "u"}}))

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer   ").Code)
}

func TestJWTPassesValidatorErrors(t *testing.T) {
	r := newRouter(JWT(&stubValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "token expired")}))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer abc").Code)
}

func TestJWTStoresClaims(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}}
	var seen *models.JWTClaims
	r := newRouter(JWT(validator), func(c *gin.Context) {
		value, _ := c.Get(ContextUserKey)
		seen, _ = value.(*models.JWTClaims)
	})

	w := serve(r, "bearer abc.def")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "abc.def", validator.token)
	require.NotNil(t, seen)
	assert.Equal(t, "teacher-1", seen.UserID)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	r := newRouter(OptionalJWT(&stubValidator{err: errors.New("bad")}))
	assert.Equal(t, http.StatusNoContent, serve(r, "Bearer abc").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "").Code)
}

func TestRBACAllowsRolesAndSelf(t *testing.T) {
	cases := []struct {
		name   string
		claims *models.JWTClaims
		want   int
	}{
		{"admin", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, http.StatusNoContent},
		{"own teacher", &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}, http.StatusNoContent},
		{"other teacher", &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}, http.StatusForbidden},
		{"student", &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(JWT(&stubValidator{claims: tc.claims}), RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), Self))
			assert.Equal(t, tc.want, serve(r, "Bearer token").Code)
		})
	}
}

func TestRBACWithoutClaims(t *testing.T) {
	r := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
}

func TestResponseMetaRecordsEntries(t *testing.T) {
	var meta map[string]interface{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/x", func(c *gin.Context) {
		SetMeta(c, "skipped", 2)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta["skipped"])
}

func TestMetricsSkipsProbesAndCountsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/sessions/a", "/sessions/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, uint64(3), metrics.Snapshot().RequestsTotal)
}
