package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/gptrelay/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("gptrelay setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "OpenAI-compatible base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Model name", cfg.LLM.Model)

		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}
		if f, err := strconv.ParseFloat(prompt(scanner, "Temperature", strconv.FormatFloat(float64(cfg.LLM.Temperature), 'f', -1, 32)), 32); err == nil {
			cfg.LLM.Temperature = float32(f)
		}
		if n, err := strconv.Atoi(prompt(scanner, "Messages kept per user", strconv.Itoa(cfg.History.MaxMessages))); err == nil && n > 0 {
			cfg.History.MaxMessages = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		groupDefault := ""
		if cfg.Telegram.GroupID != 0 {
			groupDefault = strconv.FormatInt(cfg.Telegram.GroupID, 10)
		}
		if g := prompt(scanner, "Tracked group chat ID (optional)", groupDefault); g != "" {
			id, err := strconv.ParseInt(g, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group chat ID %q: %w", g, err)
			}
			cfg.Telegram.GroupID = id
		}

		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
