// ABOUTME: Admin CLI for a running pipedeck server
// ABOUTME: Inspects snapshot, kanban and lead views, and triggers state reset

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/pipedeck/pipedeck/internal/view"
)

// defaultServer is used when neither --server nor PIPEDECK_SERVER is set.
const defaultServer = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server, args := parseServerFlag(os.Args[2:])

	var err error
	switch os.Args[1] {
	case "snapshot":
		err = runSnapshot(ctx, server)
	case "kanban":
		err = runKanban(ctx, server)
	case "leads":
		err = runLeads(ctx, server)
	case "reset":
		err = runReset(ctx, server, args)
	case "health":
		err = runHealth(ctx, server)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: pipectl <command> [--server URL]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  snapshot   Print the full state snapshot as JSON")
	fmt.Println("  kanban     Show the kanban board")
	fmt.Println("  leads      Show the lead table")
	fmt.Println("  reset      Wipe all state (asks for confirmation)")
	fmt.Println("  health     Check server health and readiness")
	fmt.Println()
	fmt.Printf("Server defaults to PIPEDECK_SERVER or %s\n", defaultServer)
}

// parseServerFlag extracts --server from args, falling back to the
// PIPEDECK_SERVER environment variable.
func parseServerFlag(args []string) (string, []string) {
	server := os.Getenv("PIPEDECK_SERVER")
	if server == "" {
		server = defaultServer
	}

	var rest []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--server" && i+1 < len(args):
			server = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--server="):
			server = strings.TrimPrefix(args[i], "--server=")
		default:
			rest = append(rest, args[i])
		}
	}
	return strings.TrimSuffix(server, "/"), rest
}

func get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runSnapshot(ctx context.Context, server string) error {
	body, status, err := get(ctx, server+"/api/state")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d", status)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting snapshot: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

func runKanban(ctx context.Context, server string) error {
	body, status, err := get(ctx, server+"/api/state/kanban")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d", status)
	}

	var board view.KanbanBoard
	if err := json.Unmarshal(body, &board); err != nil {
		return fmt.Errorf("decoding board: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	if board.BusinessName != "" {
		cyan.Printf("%s", board.BusinessName)
		gray.Printf("  (%d leads)\n\n", board.TotalLeads)
	} else {
		gray.Printf("%d leads\n\n", board.TotalLeads)
	}

	if len(board.Columns) == 0 {
		gray.Println("no pipeline installed")
		return nil
	}

	for _, col := range board.Columns {
		green.Printf("%d. %s", col.Ordinal, col.Name)
		gray.Printf("  [%s]\n", strings.Join(col.Tags, ", "))
		if col.Goal != "" {
			fmt.Printf("   %s\n", col.Goal)
		}
		if len(col.LeadIDs) == 0 {
			gray.Println("   (empty)")
		}
		for _, id := range col.LeadIDs {
			fmt.Printf("   • %s\n", id)
		}
		fmt.Println()
	}
	return nil
}

func runLeads(ctx context.Context, server string) error {
	body, status, err := get(ctx, server+"/api/state/leads")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d", status)
	}

	var table struct {
		Columns []string        `json:"columns"`
		Rows    []view.TableRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return fmt.Errorf("decoding table: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	if len(table.Rows) == 0 {
		gray.Println("no leads")
		return nil
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Println(strings.Join(table.Columns, "\t"))
	for _, row := range table.Rows {
		cells := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			cells = append(cells, row.Cells[col])
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	gray.Printf("\n%d lead(s)\n", len(table.Rows))
	return nil
}

func runReset(ctx context.Context, server string, args []string) error {
	force := false
	for _, a := range args {
		if a == "--force" || a == "-f" {
			force = true
		}
	}

	if !force {
		fmt.Print("This wipes the pipeline, all leads and all conversations. Continue? [y/N]: ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/reset", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	color.New(color.FgGreen).Println("state reset")
	return nil
}

func runHealth(ctx context.Context, server string) error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	body, status, err := get(ctx, server+"/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	green.Println("healthy")

	body, status, err = get(ctx, server+"/health/ready")
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		green.Println(strings.TrimSpace(string(body)))
	} else {
		yellow.Println(strings.TrimSpace(string(body)))
	}
	return nil
}
