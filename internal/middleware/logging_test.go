package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	router := gin.New()
	router.Use(RecoveryHandler(zap.New(core)), RequestLogger(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	t.Run("按状态码选择日志级别", func(t *testing.T) {
		for path, level := range map[string]zapcore.Level{
			"/ok":      zapcore.DebugLevel,
			"/missing": zapcore.WarnLevel,
		} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			entries := logs.TakeAll()
			if assert.Len(t, entries, 1, path) {
				assert.Equal(t, level, entries[0].Level, path)
			}
		}
	})

	t.Run("panic 返回 500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	})
}
