package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gyaneshwarpardhi/txmon/internal/rules"
)

// RuleSource exposes the rule set a detector is evaluating.
type RuleSource interface {
	Rules() *rules.Set
}

// RegisterRules adds GET /v1/rules and POST /v1/rules/reload. loader may be
// nil when the built-in rules are in use; reload then answers 409.
func RegisterRules(r gin.IRoutes, src RuleSource, loader *rules.Loader) {
	r.GET("/v1/rules", func(c *gin.Context) {
		set := src.Rules()
		c.JSON(http.StatusOK, gin.H{
			"version": set.Version(),
			"rules":   set.Rules(),
		})
	})

	r.POST("/v1/rules/reload", func(c *gin.Context) {
		if loader == nil {
			writeError(c, http.StatusConflict, "no rules file configured")
			return
		}
		// Reload notifies OnChange subscribers, which swap the detector's set.
		set, err := loader.Reload()
		if err != nil {
			writeError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reloaded":    true,
			"version":     set.Version(),
			"rules_count": set.Len(),
		})
	})
}
