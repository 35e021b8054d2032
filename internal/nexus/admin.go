package nexus

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/fabrpc/internal/observability"
)

// AdminRouter builds the read-only admin surface: health, prometheus
// metrics, and the registered-endpoint table. It reads nothing but the
// hook table, so it is safe to serve from its own goroutine.
func (n *Nexus) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminMiddleware(n.hostname, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(started).String(),
			"hostname": n.hostname,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/hooks", func(c *gin.Context) {
		tids := n.HookTIDs()
		sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
		c.JSON(http.StatusOK, gin.H{
			"hostname":  n.hostname,
			"mgmt_port": n.mgmtPort,
			"app_tids":  tids,
		})
	})

	return r
}

// ServeAdmin runs the admin surface on addr. Blocking; run on its own
// goroutine.
func (n *Nexus) ServeAdmin(addr string) error {
	return n.AdminRouter().Run(addr)
}
