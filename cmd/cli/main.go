package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	apiKey        string
	languageTitle string
	paramsJSON    string
	contextJSON   string
)

func main() {
	root := &cobra.Command{
		Use:   "functionctl",
		Short: "CLI client for the function execution controller",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Controller URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("FUNCTIONCTL_API_KEY"), "API key (forwarded as a bearer token; the controller itself enforces no auth)")

	initCmd := &cobra.Command{
		Use:   "initialize [script_file]",
		Short: "Create a session for a script, returning its request_id",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInitialize,
	}
	initCmd.Flags().StringVarP(&languageTitle, "language-title", "l", "", "Language-Title header, e.g. nodejs-calculator (required)")
	initCmd.Flags().StringVar(&contextJSON, "context", "", "Optional JSON context blob")
	root.AddCommand(initCmd)

	execCmd := &cobra.Command{
		Use:   "execute [request_id]",
		Short: "Execute a previously initialized session against a params payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecute,
	}
	execCmd.Flags().StringVarP(&paramsJSON, "params", "p", "{}", "JSON params payload")
	root.AddCommand(execCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect [request_id]",
		Short: "Fetch a session's current state without extending its expiry",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	root.AddCommand(inspectCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check controller health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInitialize(_ *cobra.Command, args []string) error {
	if languageTitle == "" {
		return fmt.Errorf("--language-title is required")
	}

	var scriptContent string
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading script file: %w", err)
		}
		scriptContent = string(data)
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		scriptContent = string(data)
	}

	payload := map[string]any{"script_content": scriptContent}
	if contextJSON != "" {
		payload["context"] = json.RawMessage(contextJSON)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/initialize", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Language-Title", languageTitle)
	setAuthHeader(req)

	return doAndPrint(req, 70*time.Second)
}

func runExecute(_ *cobra.Command, args []string) error {
	requestID := args[0]

	payload := map[string]any{"params": json.RawMessage(paramsJSON)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/execute/"+requestID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeader(req)

	return doAndPrint(req, 70*time.Second)
}

func runInspect(_ *cobra.Command, args []string) error {
	requestID := args[0]

	req, err := http.NewRequest(http.MethodGet, serverURL+"/api/v1/sessions/"+requestID, nil)
	if err != nil {
		return err
	}
	setAuthHeader(req)

	return doAndPrint(req, 10*time.Second)
}

func runHealth(_ *cobra.Command, _ []string) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+"/health", nil)
	if err != nil {
		return err
	}
	return doAndPrint(req, 10*time.Second)
}

func setAuthHeader(req *http.Request) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func doAndPrint(req *http.Request, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}
