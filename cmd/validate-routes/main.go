package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-guard/routes"
)

/* validate-routes - Standalone CLI tool to validate routes.yaml
 * Usage: go run cmd/validate-routes/main.go [routes.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	routesFile := "routes.yaml"
	if len(os.Args) > 1 {
		routesFile = os.Args[1]
	}

	fmt.Printf("Validating routes file: %s\n", routesFile)
	fmt.Println(strings.Repeat("-", 50))

	loader := routes.NewLoader()
	if err := loader.Load(routesFile); err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loadedRoutes := loader.List()
	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d route(s):\n", len(loadedRoutes))

	for i, route := range loadedRoutes {
		fmt.Printf("\n%d. Route: %s\n", i+1, route.RouteID)
		fmt.Printf("   Target URL:   %s\n", route.TargetURL)
		if route.MaxRetries != nil {
			fmt.Printf("   Max Retries:  %d\n", *route.MaxRetries)
		}
		if route.BaseDelay > 0 {
			fmt.Printf("   Base Delay:   %s (exponential: %t)\n", route.BaseDelay, route.ExponentialBackoff())
		}
		if route.Timeout > 0 {
			fmt.Printf("   Timeout:      %s\n", route.Timeout)
		}
		if route.Source != "" {
			fmt.Printf("   Source:       %s\n", route.Source)
		}
		fmt.Printf("   Signed:       %t\n", route.SigningSecret != "")
		if len(route.EventTypes) > 0 {
			fmt.Printf("   Event Types:  %s\n", strings.Join(route.EventTypes, ", "))
		}
	}

	for _, required := range []string{routes.Inbound, routes.Usage} {
		if !loader.Exists(required) {
			fmt.Printf("\nnote: no %q route, that flow will not be forwarded\n", required)
		}
	}

	fmt.Printf("\nAll routes are valid!\n")
}
