// aidamd is the sidecar daemon: it registers the running session in
// orchestrator_state, heartbeats it, and serves a liveness endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aidam-sidecar/core/internal/wiring"
	"github.com/aidam-sidecar/core/pkg/database"
	"github.com/aidam-sidecar/core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	pluginRoot := flag.String("plugin-root", getEnv("AIDAM_PLUGIN_ROOT", "."), "Path to the plugin root directory")
	sessionID := flag.String("session-id", os.Getenv("AIDAM_SESSION_ID"), "Session id to register under orchestrator_state")
	httpPort := flag.String("http-port", getEnv("AIDAM_HTTP_PORT", "8787"), "Liveness HTTP port")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("session-id is required (set --session-id or AIDAM_SESSION_ID)")
	}

	log.Printf("Starting %s", version.Full())

	ctx := context.Background()

	app, err := wiring.Bootstrap(ctx, *pluginRoot)
	if err != nil {
		log.Fatalf("Failed to bootstrap aidamd: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	if err := app.Orch.Start(ctx, *sessionID, os.Getpid()); err != nil {
		log.Fatalf("Failed to register orchestrator state: %v", err)
	}
	log.Printf("✓ Registered session %s (pid %d)", *sessionID, os.Getpid())

	stop := make(chan struct{})
	go heartbeatLoop(ctx, app, *sessionID, stop)
	defer close(stop)

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, app.DB.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth, "session_id": *sessionID, "version": version.Full()})
	})

	log.Printf("Liveness endpoint listening on :%s", *httpPort)
	if err := router.Run(":" + *httpPort); err != nil {
		log.Fatalf("Failed to start liveness server: %v", err)
	}
}

func heartbeatLoop(ctx context.Context, app *wiring.App, sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := app.Orch.Heartbeat(ctx, sessionID); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}
