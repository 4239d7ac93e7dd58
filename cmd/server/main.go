package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"inkwell/internal/api"
	"inkwell/internal/config"
	"inkwell/internal/gateway"
	"inkwell/internal/persist"
	"inkwell/internal/registry"
)

func main() {
	cfg := config.Load()

	store, err := persist.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	reg := registry.New(store, cfg.TeardownGrace)

	gw := gateway.New(reg, store, cfg.SaveDebounce)
	gw.SetRateLimit(cfg.RateLimit, cfg.RateBurst)

	janitor := registry.NewJanitor(reg, registry.JanitorConfig{
		Interval: cfg.JanitorInterval,
		MaxIdle:  cfg.AwarenessIdle,
	}, gw.NotifyAwarenessEvicted)
	janitor.Start()

	apiHandler := api.New(gw, store)

	router := apiHandler.Router()
	router.HandleFunc("/ws", gw.ServeWS)

	handler := api.CORSMiddleware(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		janitor.Stop()
		gw.Saver().Flush()
		store.Close()
		os.Exit(0)
	}()

	log.Printf("🖋️ Inkwell server starting on %s", cfg.Addr)
	log.Printf("📁 Database: %s", cfg.DBPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Files:     GET /api/workspaces/{id}/files")
	log.Println("  - Content:   GET /api/workspaces/{id}/files/{path}")
	log.Println("  - History:   GET /api/workspaces/{id}/files/{path}/history")

	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}
