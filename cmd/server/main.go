package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"podcasty/internal/db"
	"podcasty/internal/handlers"
	"podcasty/internal/middleware"
	"podcasty/internal/pipeline"
	"podcasty/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	db.InitDB()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// With no Redis configured the server runs pipelines itself on
	// background goroutines instead of enqueuing.
	var enqueuer tasks.TaskEnqueuer
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
		defer client.Close()
		enqueuer = client
	} else {
		log.Println("REDIS_ADDR not set, running pipelines in-process")
	}

	pipe := pipeline.NewFromEnv()
	h := handlers.New(enqueuer, pipe)
	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(1), 5)

	r := mux.NewRouter()
	r.Handle("/api/episodes", limiter.Middleware(http.HandlerFunc(h.CreateEpisode))).Methods(http.MethodPost)
	r.HandleFunc("/api/episodes/{id}", h.GetEpisode).Methods(http.MethodGet)
	r.HandleFunc("/api/episodes/{id}/events", h.ListEpisodeEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userID}/rss", h.UserFeed).Methods(http.MethodGet)

	log.Printf("Starting server on :%s (commit: %s)", port, CommitSHA)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}
