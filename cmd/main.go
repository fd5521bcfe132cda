package main

import (
	"fmt"
	"os"

	"github.com/aurafin/underwriting-engine/internal/app"
	"github.com/aurafin/underwriting-engine/internal/platform/envutil"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	port := envutil.String("PORT", "8080")
	a.Log.Info("Server listening", "port", port)
	if err := a.Run(":" + port); err != nil {
		a.Log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
