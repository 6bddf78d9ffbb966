package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for embedsrv configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Welcome to embedsrv setup!")
	fmt.Println("This will create a configuration file for you.")
	fmt.Println()

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists at %s\n", configPath)
		fmt.Print("Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Print("GitHub auth (token/app) [token]: ")
	auth, _ := reader.ReadString('\n')
	auth = strings.TrimSpace(auth)
	if auth == "" {
		auth = "token"
	}

	fmt.Print("Embedding provider (openai/ollama) [openai]: ")
	embedProvider, _ := reader.ReadString('\n')
	embedProvider = strings.TrimSpace(embedProvider)
	if embedProvider == "" {
		embedProvider = "openai"
	}

	fmt.Print("HTTP listen address [:8080]: ")
	addr, _ := reader.ReadString('\n')
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}

	config := buildConfigYAML(auth, embedProvider, addr)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", configPath)
	fmt.Println("Edit the file to add API keys and customize settings.")
	return nil
}

func buildConfigYAML(auth, embedProvider, addr string) string {
	var b strings.Builder

	b.WriteString("# embedsrv configuration\n")
	b.WriteString("# See documentation for all available options.\n\n")

	b.WriteString("github:\n")
	b.WriteString(fmt.Sprintf("  auth: %s\n", auth))
	if auth == "app" {
		b.WriteString("  # app_id: YOUR_APP_ID\n")
		b.WriteString("  # installation_id: YOUR_INSTALLATION_ID\n")
		b.WriteString("  # private_key_path: /path/to/private-key.pem\n")
	} else {
		b.WriteString("  token: ${GITHUB_TOKEN}\n")
	}
	b.WriteString("\n")

	b.WriteString("provider:\n")
	b.WriteString(fmt.Sprintf("  type: %s\n", embedProvider))
	model, apiKey := providerDefaults(embedProvider)
	b.WriteString(fmt.Sprintf("  model: %s\n", model))
	b.WriteString(fmt.Sprintf("  api_key: %s\n", apiKey))
	b.WriteString("  # dimensions: 1536\n")
	b.WriteString("\n")

	b.WriteString("server:\n")
	b.WriteString(fmt.Sprintf("  addr: \"%s\"\n", addr))
	b.WriteString("  # api_key: required in the Token header when set\n")
	b.WriteString("\n")

	b.WriteString("defaults:\n")
	b.WriteString("  workers: 4\n")
	b.WriteString("  max_chars: 8000\n")
	b.WriteString("  page_size: 100\n")
	b.WriteString("  request_timeout: 30s\n")
	b.WriteString("\n")

	b.WriteString("store:\n")
	b.WriteString("  path: ~/.embedsrv/embedsrv.db\n")

	return b.String()
}

// providerDefaults returns the default model and api_key placeholder for the
// given embedding provider type.
func providerDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "ollama":
		return "nomic-embed-text", "# not required for ollama"
	default: // openai
		return "text-embedding-3-small", "${OPENAI_API_KEY}"
	}
}
