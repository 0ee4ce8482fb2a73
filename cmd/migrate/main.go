package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"socialqueue/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./socialqueue.db", "Path to the database file")
	list := flag.Bool("list", false, "List embedded migrations and exit")
	flag.Parse()

	if *list {
		all, err := migrations.All()
		if err != nil {
			log.Fatalf("Failed to read migrations: %v", err)
		}
		for _, m := range all {
			fmt.Printf("%03d %s\n", m.Version, m.Name)
		}
		return
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database file not found: %s", *dbPath)
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	applied, err := migrations.Apply(context.Background(), db)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if len(applied) == 0 {
		fmt.Println("Schema is up to date, nothing to apply.")
		return
	}
	for _, version := range applied {
		fmt.Printf("Applied migration %d\n", version)
	}
	fmt.Println("Migrations completed successfully!")
}
