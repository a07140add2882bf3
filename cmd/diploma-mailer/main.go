package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/diplomaflow/internal/gcp"
	"github.com/Lllllllleong/diplomaflow/internal/services"
)

var (
	mailerInstance *services.DiplomaMailerFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleIssueDiploma" is the entry point name we'll see in GCP.
	functions.HTTP("HandleIssueDiploma", handleIssueDiploma)
}

// main serves the function locally. Cloud Functions ignores it.
func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

func handleIssueDiploma(w http.ResponseWriter, r *http.Request) {
	// Clients are built on the first request and reused by later ones.
	once.Do(func() {
		mailerInstance, initErr = services.NewDiplomaMailer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	mailerInstance.ServeHTTP(w, r)
}
