package main

import (
	"embed"
	"encoding/json"
	"log"
)

//go:embed package.json
var packageFile embed.FS

type packageInfo struct {
	Version string `json:"version"`
}

// AppVersion is the ClipSpeed release version, taken from package.json
// so the Go side and the frontend always report the same number.
var AppVersion string

func init() {
	raw, err := packageFile.ReadFile("package.json")
	if err != nil {
		log.Fatalf("ClipSpeed build is missing its embedded package.json: %v", err)
	}
	var info packageInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		log.Fatalf("Could not parse embedded package.json: %v", err)
	}
	AppVersion = info.Version
}
