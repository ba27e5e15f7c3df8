package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hargraph/internal/config"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <capture.har>",
	Short: "Load a HAR capture as the active dataset",
	Long: `Load a HAR capture as the active dataset.

The previous dataset is replaced; the knowledge graph, scraping table and
chat history are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening capture: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postRaw("/entries/import", f)
		if err != nil {
			return err
		}

		var result struct {
			Imported int `json:"imported"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d records from %s", result.Imported, args[0])
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the extraction agent",
	Long: `Send a message to the extraction agent.

Examples:
  hargraph chat "what endpoints were captured?"
  hargraph chat "extract all users and their orders into the graph"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Thinking...")
		resp, err := client.postJSON("/chat", map[string]string{"message": message})
		if err != nil {
			return err
		}

		var reply struct {
			Text      string `json:"text"`
			ToolCalls []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"toolCalls"`
		}
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		for _, tc := range reply.ToolCalls {
			if tc.Status == "error" {
				printWarning("tool %s failed", tc.Name)
			} else {
				printStep("ran %s", tc.Name)
			}
		}
		fmt.Println(reply.Text)
		return nil
	},
}

// --- entries ---

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List the dataset records",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/entries")
		if err != nil {
			return err
		}

		var result struct {
			Entries []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Method   string `json:"method"`
				URL      string `json:"url"`
				Status   int    `json:"status"`
				Selected bool   `json:"selected"`
			} `json:"entries"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Entries) == 0 {
			fmt.Println("No records loaded. Run `hargraph import <capture.har>` first.")
			return nil
		}

		for _, e := range result.Entries {
			marker := " "
			if e.Selected {
				marker = colorize(colorGreen, "*")
			}
			url := e.URL
			if len(url) > 90 {
				url = url[:90] + "..."
			}
			fmt.Printf("%s %3d  %s %-6s %s\n", marker, e.Index,
				colorize(colorCyan, fmt.Sprintf("%d", e.Status)), e.Method, url)
		}
		return nil
	},
}

var entriesSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Toggle a record into the active working subset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deselect, _ := cmd.Flags().GetBool("off")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patchJSON("/entries/"+args[0], map[string]bool{"selected": !deselect})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Record %s selected=%v", args[0], !deselect)
		return nil
	},
}

func init() {
	entriesSelectCmd.Flags().Bool("off", false, "deselect instead of select")
	entriesCmd.AddCommand(entriesSelectCmd)
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Dump the knowledge graph as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/graph")
		if err != nil {
			return err
		}

		var g any
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	},
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or restore a full project backup",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all project data as a single JSON document",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/backup")
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return err
		}

		if output != "" {
			printSuccess("Backup written to %s", output)
		}
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <backup.json>",
	Short: "Restore a project from a backup document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening backup: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postRaw("/backup", f)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Restored %d records, %d nodes, %d links, %d scraping rows, %d chat messages",
			result["harEntries"], result["nodes"], result["links"],
			result["scrapingEntries"], result["chatMessages"])
		return nil
	},
}

func init() {
	backupExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
