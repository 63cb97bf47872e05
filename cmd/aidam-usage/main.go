// aidam-usage prints a per-agent invocation/cost/budget report for a
// session: a read-only operator view over agent_usage without going
// through an MCP client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aidam-sidecar/core/internal/wiring"
)

func main() {
	sessionID := flag.String("session-id", "", "Session id to report usage for")
	pluginRoot := flag.String("plugin-root", getEnv("AIDAM_PLUGIN_ROOT", "."), "Path to the plugin root directory")
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "aidam-usage: --session-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := wiring.Bootstrap(ctx, *pluginRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aidam-usage: bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	usages, err := app.Orch.ListAgentUsage(ctx, *sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aidam-usage: %v\n", err)
		os.Exit(1)
	}

	if len(usages) == 0 {
		fmt.Printf("no agent usage recorded for session %s\n", *sessionID)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tINVOCATIONS\tTOTAL COST\tLAST COST\tBUDGET/CALL\tBUDGET/SESSION\tSTATUS")
	var totalCost, totalBudget float64
	for _, u := range usages {
		totalCost += u.TotalCostUSD
		totalBudget += u.BudgetSession
		fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t$%.2f\t$%.2f\t%s\n",
			u.AgentName, u.InvocationCount, u.TotalCostUSD, u.LastCostUSD, u.BudgetPerCall, u.BudgetSession, u.Status)
	}
	_ = w.Flush()

	remaining := totalBudget - totalCost
	if remaining < 0 {
		remaining = 0
	}
	fmt.Printf("\nsession total: $%.4f spent of $%.2f budgeted ($%.4f remaining)\n",
		totalCost, totalBudget, remaining)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
