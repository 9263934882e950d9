package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for the turbo CLI, and the server's if reachable.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("turbo CLI v1.0.0")
			fmt.Println("Compatible with turbo API v1")
			fmt.Println("Built with Go and Cobra framework")

			url, _ := cmd.Flags().GetString("url")
			if serverVersion, err := fetchServerVersion(url); err == nil {
				fmt.Printf("Server: %s (%s)\n", serverVersion, url)
			}
		},
	}

	return cmd
}

func fetchServerVersion(baseURL string) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Message, nil
}
