package main

// Set at build time:
//
//	go build -ldflags "-X main.version=v1.2.0 -X main.commit=$(git rev-parse --short HEAD) -X main.date=$(date -u +%F)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
