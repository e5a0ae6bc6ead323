// Package breakers implements commands for inspecting and resetting the
// worker's circuit breakers through its ops endpoint.
package breakers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/gogen/cmd/common"
)

const requestTimeout = 10 * time.Second

// breakerState mirrors the ops endpoint's per-breaker JSON.
type breakerState struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	OpenedAt     time.Time `json:"opened_at"`
}

// Command creates the breakers command tree.
func Command() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breaker state",
		Long: `Show the state of every circuit breaker registered in a running worker.

Breakers live in worker memory, so this command queries the worker's
operational HTTP endpoint rather than Redis or the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			states, err := fetchBreakers(ctx, opsBaseURL(addr, deps.Config.Metrics.Address))
			if err != nil {
				return err
			}
			if len(states) == 0 {
				cmd.Println("No circuit breakers registered.")
				return nil
			}

			renderBreakerTable(states)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&addr, "addr", "", "Worker ops address (default from metrics.address config)")
	cmd.AddCommand(resetCommand(&addr))

	return cmd
}

// resetCommand forces every breaker in the running worker back to closed.
func resetCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Force all circuit breakers back to closed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			url := opsBaseURL(*addr, deps.Config.Metrics.Address) + "/breakers/reset"
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			resp, err := (&http.Client{Timeout: requestTimeout}).Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach worker ops endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
			}

			cmd.Println("Circuit breakers reset.")
			return nil
		},
	}
}

// fetchBreakers reads the breaker snapshot from the worker ops endpoint.
func fetchBreakers(ctx context.Context, baseURL string) (map[string]breakerState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/breakers", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := (&http.Client{Timeout: requestTimeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach worker ops endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var states map[string]breakerState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("failed to decode breaker state: %w", err)
	}
	return states, nil
}

// opsBaseURL resolves the ops endpoint URL from the flag when set, falling
// back to the configured listen address.
func opsBaseURL(flagAddr, configAddr string) string {
	addr := flagAddr
	if addr == "" {
		addr = configAddr
	}
	// A bare listen port like ":9090" needs a host to dial.
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func renderBreakerTable(states map[string]breakerState) {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "State", "Failures", "Successes", "Opened"})

	for _, name := range names {
		s := states[name]
		opened := ""
		if !s.OpenedAt.IsZero() {
			opened = s.OpenedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{name, s.State, s.FailureCount, s.SuccessCount, opened})
	}

	t.Render()
}
