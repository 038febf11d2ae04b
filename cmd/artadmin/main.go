// Package main provides a CLI tool for creating artworks, users, and
// collaborator links in the postgres store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/postgres.yaml", "path to configuration file")
	action := flag.String("action", "", "one of: create-artwork, create-user, add-collaborator (required)")
	title := flag.String("title", "", "artwork title (create-artwork)")
	description := flag.String("description", "", "artwork description (create-artwork)")
	username := flag.String("username", "", "username (create-user)")
	displayName := flag.String("display-name", "", "display name (create-user)")
	artworkID := flag.Int64("artwork", 0, "artwork id (add-collaborator)")
	userID := flag.Int64("user", 0, "user id (add-collaborator)")
	contribution := flag.Int("contribution", 0, "contribution percentage 0-100 (add-collaborator)")
	owner := flag.Bool("owner", false, "mark the collaborator as owner (add-collaborator)")
	flag.Parse()

	if *action == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	switch *action {
	case "create-artwork":
		if *title == "" {
			log.Fatalf("-title is required")
		}
		a, err := postgres.NewArtworkRepository(pool.DB()).Create(ctx, *title, *description)
		if err != nil {
			log.Fatalf("creating artwork: %v", err)
		}
		fmt.Fprintf(os.Stdout, "created artwork %q (#%d) status=%s [%s]\n", a.Title, a.ID, a.Status, time.Since(start))

	case "create-user":
		if *username == "" {
			log.Fatalf("-username is required")
		}
		id, err := postgres.NewCollaboratorRepository(pool.DB()).CreateUser(ctx, *username, *displayName)
		if err != nil {
			log.Fatalf("creating user %q: %v", *username, err)
		}
		fmt.Fprintf(os.Stdout, "created user %s (#%d) [%s]\n", *username, id, time.Since(start))

	case "add-collaborator":
		if *artworkID <= 0 || *userID <= 0 {
			log.Fatalf("-artwork and -user must be positive ids")
		}
		if *contribution < 0 || *contribution > 100 {
			log.Fatalf("-contribution must be 0-100, got %d", *contribution)
		}
		repo := postgres.NewCollaboratorRepository(pool.DB())
		if err := repo.Add(ctx, *artworkID, *userID, *contribution, *owner); err != nil {
			log.Fatalf("adding collaborator: %v", err)
		}
		fmt.Fprintf(os.Stdout, "added user #%d to artwork #%d (owner=%v, %d%%) [%s]\n",
			*userID, *artworkID, *owner, *contribution, time.Since(start))

	default:
		log.Fatalf("unknown action %q", *action)
	}
}
