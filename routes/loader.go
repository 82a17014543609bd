package routes

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Get for unknown route ids
var ErrNotFound = errors.New("route not found")

/* Loader manages route configuration from routes.yaml
 * Provides in-memory lookup for fast access
 */

// Config represents the structure of routes.yaml
type Config struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig represents a single route in the YAML file
type RouteConfig struct {
	RouteID       string   `yaml:"route_id"`
	TargetURL     string   `yaml:"target_url"`
	MaxRetries    *int     `yaml:"max_retries"` // Optional: dispatcher default when absent
	BaseDelay     string   `yaml:"base_delay"`  // Go duration, e.g. "750ms"
	Exponential   *bool    `yaml:"exponential"` // Optional: doubles the delay when absent
	Timeout       string   `yaml:"timeout"`
	Source        string   `yaml:"source"`
	BearerToken   string   `yaml:"bearer_token"`
	SigningSecret string   `yaml:"signing_secret"`
	EventTypes    []string `yaml:"event_types"`
}

// Loader holds the loaded routes
type Loader struct {
	routes map[string]*Route
}

// NewLoader creates a new route loader
func NewLoader() *Loader {
	return &Loader{
		routes: make(map[string]*Route),
	}
}

// Load reads and parses the routes.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading routes file: %w", err)
	}
	return l.Parse(data)
}

// Parse loads routes from YAML bytes. Nothing is kept when any route is invalid.
func (l *Loader) Parse(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing routes YAML: %w", err)
	}

	loaded := make(map[string]*Route, len(config.Routes))
	for _, rc := range config.Routes {
		route, err := rc.toRoute()
		if err != nil {
			return err
		}
		if err := route.Validate(); err != nil {
			return fmt.Errorf("validating route: %w", err)
		}
		if _, dup := loaded[route.RouteID]; dup {
			return fmt.Errorf("validating route: duplicate route_id %s", route.RouteID)
		}
		loaded[route.RouteID] = route
	}

	for id, route := range loaded {
		l.routes[id] = route
	}
	return nil
}

func (rc RouteConfig) toRoute() (*Route, error) {
	baseDelay, err := parseDuration(rc.BaseDelay)
	if err != nil {
		return nil, fmt.Errorf("parsing base_delay for route %s: %w", rc.RouteID, err)
	}
	timeout, err := parseDuration(rc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("parsing timeout for route %s: %w", rc.RouteID, err)
	}

	return &Route{
		RouteID:       rc.RouteID,
		TargetURL:     rc.TargetURL,
		MaxRetries:    rc.MaxRetries,
		BaseDelay:     baseDelay,
		Exponential:   rc.Exponential,
		Timeout:       timeout,
		Source:        rc.Source,
		BearerToken:   rc.BearerToken,
		SigningSecret: rc.SigningSecret,
		EventTypes:    rc.EventTypes,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Get retrieves a route by its ID
func (l *Loader) Get(routeID string) (*Route, error) {
	route, exists := l.routes[routeID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, routeID)
	}
	return route, nil
}

// List returns all loaded routes ordered by id
func (l *Loader) List() []*Route {
	routes := make([]*Route, 0, len(l.routes))
	for _, route := range l.routes {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].RouteID < routes[j].RouteID })
	return routes
}

// Exists checks if a route ID exists
func (l *Loader) Exists(routeID string) bool {
	_, exists := l.routes[routeID]
	return exists
}
