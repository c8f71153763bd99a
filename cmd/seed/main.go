package main

import (
	"context"
	"log"

	"crm-backend/internal/config"
	"crm-backend/internal/database"
	"crm-backend/internal/logging"
	"crm-backend/internal/remote"
	"crm-backend/internal/supabase"

	"github.com/joho/godotenv"
)

// seed creates a demo workspace with two members, a custom kanban column and a
// lead. Users are created through the Supabase admin API; rows go through the
// configured data source.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.New()
	logger := logging.New(cfg)
	ctx := context.Background()

	sb := supabase.NewClient(cfg)
	var db remote.Client = sb.AsService()
	if cfg.DataSource == "postgres" {
		conn, err := database.NewConnection(ctx, cfg, logger)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer conn.Close()
		store := database.NewStore(conn, logger)
		defer store.Close()
		db = store
	}

	var ws struct {
		ID string `json:"id"`
	}
	err := db.Insert(ctx, "workspaces", map[string]interface{}{"name": "Demo Solar", "slug": "demo-solar"}, &ws)
	if remote.IsConflict(err) {
		err = db.Select(ctx, "workspaces", remote.Where(remote.Eq("slug", "demo-solar")), &ws)
	}
	if err != nil {
		log.Fatal("Failed to create workspace:", err)
	}
	log.Printf("Workspace %s ready\n", ws.ID)

	users := []struct {
		Email    string
		Password string
		Name     string
		Role     string
	}{
		{"owner@example.com", "password123", "Olivia Owner", "owner"},
		{"agent@example.com", "password123", "Arthur Agent", "member"},
	}

	for _, u := range users {
		created, err := sb.AdminCreateUser(ctx, u.Email, u.Password, map[string]interface{}{"name": u.Name})
		if err != nil {
			log.Printf("Failed to create user %s: %v\n", u.Email, err)
			continue
		}
		err = db.Insert(ctx, "workspace_members", map[string]interface{}{
			"workspace_id": ws.ID,
			"user_id":      created.ID,
			"role":         u.Role,
		}, nil)
		if err != nil && !remote.IsConflict(err) {
			log.Printf("Failed to add %s to the workspace: %v\n", u.Email, err)
			continue
		}
		log.Printf("User %s created (or already exists)\n", u.Email)
	}

	if err := db.Insert(ctx, "job_statuses", map[string]interface{}{
		"workspace_id": ws.ID,
		"label":        "Waiting for parts",
		"color":        "#f59e0b",
		"position":     0,
	}, nil); err != nil && !remote.IsConflict(err) {
		log.Printf("Failed to create column: %v\n", err)
	}

	if err := db.Insert(ctx, "leads", map[string]interface{}{
		"workspace_id": ws.ID,
		"name":         "Maria Silva",
		"phone":        "11999999999",
		"stage_id":     "new",
		"source":       "seed",
	}, nil); err != nil && !remote.IsConflict(err) {
		log.Printf("Failed to create lead: %v\n", err)
	}

	log.Println("Seeding completed successfully!")
}
