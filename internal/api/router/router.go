package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchlane/guidance-video-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.Config.App.Name,
		})
	})

	videoHandler := handler.NewVideoHandler(deps)

	guidance := r.Group("/guidance")
	{
		videos := guidance.Group("/videos")
		{
			// POST /guidance/videos - Accept an upload and enqueue the transcode
			videos.POST("", videoHandler.CreateVideo)

			// GET /guidance/videos - List jobs with filtering and pagination
			videos.GET("", videoHandler.ListVideos)

			// GET /guidance/videos/:job_id - Get job lifecycle state
			videos.GET("/:job_id", videoHandler.GetVideo)
		}

		// GET /guidance/challenges/:challenge_id/video - Resolve the playable clip
		guidance.GET("/challenges/:challenge_id/video", videoHandler.GetChallengeVideo)
	}

	// Finished clips are plain files; serve them directly
	r.Static("/guidance/media", deps.Config.Storage.ProcessedDir())

	return r
}
