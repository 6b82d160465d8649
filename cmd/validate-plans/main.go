package main

import (
	"fmt"
	"os"

	"github.com/blockedby/tg-extractor/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("No files to check.")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		plans, err := config.LoadPlans(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s is valid (%d plans, max batch %d)\n", path, len(plans), plans.MaxBatch())
	}

	if failed {
		os.Exit(1)
	}
}
