package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

const (
	systemConfigFile   = "config.json"
	networksConfigFile = "networks.json"
)

// SystemConfig defines board-wide settings for the mail core.
type SystemConfig struct {
	BoardName       string `json:"boardName"`
	DataPath        string `json:"dataPath"`        // Directory holding EMAIL.DAT, INSTANCE.DAT, users.json
	MaxNodes        int    `json:"maxNodes"`        // Number of instance slots
	PollIntervalMs  int    `json:"pollIntervalMs"`  // Initial node message poll interval
	CompactSchedule string `json:"compactSchedule"` // Cron syntax (with seconds) for background compaction; empty disables
	GatewayNetwork  int    `json:"gatewayNetwork"`  // Preferred internet network for user@host mail; 0 means the first one
	InternetSystem  int    `json:"internetSystem"`  // Sentinel system number meaning "internet gateway"

	ForwardAuditSchedule string `json:"forwardAuditSchedule"` // Cron syntax for clearing stale forwarding links; also run on network reload
}

// LoadSystemConfig loads the system configuration from config.json.
func LoadSystemConfig(configPath string) (SystemConfig, error) {
	filePath := filepath.Join(configPath, systemConfigFile)
	log.Printf("INFO: Loading system configuration from %s", filePath)

	defaultConfig := SystemConfig{
		BoardName:       "ViSiON/3 BBS",
		DataPath:        "data",
		MaxNodes:        10,
		PollIntervalMs:  1000,
		CompactSchedule: "0 */30 * * * *",
		GatewayNetwork:  0,
		InternetSystem:  32767,

		ForwardAuditSchedule: "0 0 4 * * *",
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: %s not found at %s. Using default settings.", systemConfigFile, filePath)
			return defaultConfig, nil
		}
		return defaultConfig, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	config := defaultConfig
	if err := json.Unmarshal(data, &config); err != nil {
		log.Printf("ERROR: Failed to parse config JSON from %s: %v. Using default settings.", filePath, err)
		return defaultConfig, fmt.Errorf("failed to parse config JSON from %s: %w", filePath, err)
	}

	if config.MaxNodes <= 0 {
		config.MaxNodes = defaultConfig.MaxNodes
	}
	if config.PollIntervalMs <= 0 {
		config.PollIntervalMs = defaultConfig.PollIntervalMs
	}
	if config.InternetSystem <= 0 {
		config.InternetSystem = defaultConfig.InternetSystem
	}

	log.Printf("INFO: Successfully loaded system configuration from %s", filePath)
	return config, nil
}
