package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/audit"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// eventsHandler は GET /api/admin/events のハンドラーです。
func eventsHandler(store audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultEventLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "limit は正の整数で指定してください。",
				})
				return
			}
			limit = min(n, maxEventLimit)
		}

		events, err := store.Recent(c.Request.Context(), limit)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "イベントの取得に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"events": events,
		})
	}
}
