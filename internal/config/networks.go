package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Network addressing families.
const (
	NetTypeWWIV     = "wwivnet"  // Numeric system numbers, user@system
	NetTypeFTN      = "ftn"      // Zone:Net/Node.Point addresses
	NetTypeInternet = "internet" // Email gateway
)

// SystemEntry is one row of a network's routing table.
type SystemEntry struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// FTNNode maps an FTN address to the system number mail for it is routed under.
type FTNNode struct {
	Address string `json:"address"` // e.g. "21:1/100"
	System  int    `json:"system"`
}

// DirectoryEntry is a known user name on some system. Local user tables
// produce entries with System 0.
type DirectoryEntry struct {
	User   int    `json:"user"`
	System int    `json:"system"`
	Name   string `json:"name"`
}

// NetworkConfig holds one configured inter-system network.
type NetworkConfig struct {
	Number     int              `json:"number"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	Zone       int              `json:"zone,omitempty"`        // FTN only
	OwnAddress string           `json:"own_address,omitempty"` // FTN only
	Systems    []SystemEntry    `json:"systems"`
	Nodes      []FTNNode        `json:"nodes,omitempty"`
	Directory  []DirectoryEntry `json:"directory,omitempty"`
}

// IsFTN reports whether the network uses FTN addressing.
func (n NetworkConfig) IsFTN() bool {
	return strings.EqualFold(n.Type, NetTypeFTN)
}

// HasSystem reports whether system appears in the routing table.
func (n NetworkConfig) HasSystem(system int) bool {
	_, ok := n.SystemName(system)
	return ok
}

// SystemName returns the routing-table name for system.
func (n NetworkConfig) SystemName(system int) (string, bool) {
	for _, s := range n.Systems {
		if s.Number == system {
			return s.Name, true
		}
	}
	return "", false
}

// LoadNetworks loads the network list from networks.json.
// Returns an empty list (local mail only) if the file does not exist.
func LoadNetworks(configPath string) ([]NetworkConfig, error) {
	filePath := filepath.Join(configPath, networksConfigFile)
	log.Printf("INFO: Loading network configuration from %s", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("INFO: %s not found at %s. Local mail only.", networksConfigFile, filePath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read network config file %s: %w", filePath, err)
	}

	var nets []NetworkConfig
	if err := json.Unmarshal(data, &nets); err != nil {
		log.Printf("ERROR: Failed to parse network config JSON from %s: %v", filePath, err)
		return nil, fmt.Errorf("failed to parse network config JSON from %s: %w", filePath, err)
	}

	seen := make(map[int]bool, len(nets))
	for _, n := range nets {
		if seen[n.Number] {
			return nil, fmt.Errorf("duplicate network number %d in %s", n.Number, filePath)
		}
		seen[n.Number] = true
		log.Printf("INFO: Network %d %q (%s): %d systems", n.Number, n.Name, n.Type, len(n.Systems))
	}
	log.Printf("INFO: Loaded network configuration: %d network(s)", len(nets))
	return nets, nil
}

// FindNetwork looks a network up by number or (case-insensitive) name.
func FindNetwork(nets []NetworkConfig, designator string) (NetworkConfig, bool) {
	designator = strings.TrimSpace(designator)
	if num, err := strconv.Atoi(designator); err == nil {
		for _, n := range nets {
			if n.Number == num {
				return n, true
			}
		}
		return NetworkConfig{}, false
	}
	for _, n := range nets {
		if strings.EqualFold(n.Name, designator) {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// NetworkByNumber returns the network with the given number.
func NetworkByNumber(nets []NetworkConfig, number int) (NetworkConfig, bool) {
	for _, n := range nets {
		if n.Number == number {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// NetworkSet is a concurrency-safe holder for the live network list, swapped
// wholesale when networks.json is reloaded.
type NetworkSet struct {
	mu   sync.RWMutex
	nets []NetworkConfig
}

func NewNetworkSet(nets []NetworkConfig) *NetworkSet {
	return &NetworkSet{nets: nets}
}

// Get returns the current list. Callers must not modify it.
func (s *NetworkSet) Get() []NetworkConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nets
}

func (s *NetworkSet) Set(nets []NetworkConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nets = nets
}
