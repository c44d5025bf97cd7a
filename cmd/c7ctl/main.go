// Package main implements the c7ctl CLI for manual operations against a c7d server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the c7d HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "c7ctl",
	Short: "CLI for c7d documentation server operations",
	Long: `c7ctl is a command-line interface for interacting with a c7d server.
It provides commands for managing libraries, ingesting documents, and
querying documentation.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "c7d server URL")
	rootCmd.AddCommand(createLibraryCmd)
	rootCmd.AddCommand(listLibrariesCmd)
	rootCmd.AddCommand(uploadDocCmd)
	rootCmd.AddCommand(fetchDocCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(healthCmd)
}

// ErrorPayload matches internal/httpapi/errors.go ErrorPayload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// createLibraryCmd registers a new library
var createLibraryCmd = &cobra.Command{
	Use:   "create-library <name> <language> <ecosystem> [description]",
	Short: "Create a library",
	Long: `Create a library on the c7d server.

Examples:
  # Register react
  c7ctl create-library react JavaScript npm "A JavaScript library for building user interfaces"`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runCreateLibrary,
}

// listLibrariesCmd lists registered libraries
var listLibrariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List libraries",
	RunE:  runListLibraries,
}

// uploadDocCmd uploads a markdown file into a library
var uploadDocCmd = &cobra.Command{
	Use:   "upload-doc <file> <library_id> [title]",
	Short: "Upload a markdown document",
	Long: `Upload a markdown file (or stdin) into a library.

Examples:
  # Upload a file
  c7ctl upload-doc hooks.md 4f2a...

  # Upload from stdin with an explicit title
  cat hooks.md | c7ctl upload-doc - 4f2a... "Hooks Reference"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runUploadDoc,
}

// fetchDocCmd asks the server to fetch a document from a URL
var fetchDocCmd = &cobra.Command{
	Use:   "fetch-doc <url> <library_id>",
	Short: "Fetch a document from a URL into a library",
	Args:  cobra.ExactArgs(2),
	RunE:  runFetchDoc,
}

// queryCmd runs a semantic search against a library
var queryCmd = &cobra.Command{
	Use:   "query <library> <query...>",
	Short: "Query a library's documentation",
	Long: `Run a semantic search against a library and print the matching
chunks as markdown. The library may be given by ID, Context7 ID
(e.g. /npm/react), or name.

Examples:
  c7ctl query /npm/react how do hooks work
  c7ctl query react useState -k 3`,
	Args: cobra.MinimumNArgs(2),
	RunE: runQuery,
}

// resolveCmd resolves a free-form name to a library
var resolveCmd = &cobra.Command{
	Use:   "resolve <name> [query...]",
	Short: "Resolve a library name to its Context7 ID",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check c7d server health",
	RunE:  runHealth,
}

var queryK int

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 5, "number of chunks to return")
}

func runCreateLibrary(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"name":      args[0],
		"language":  args[1],
		"ecosystem": args[2],
	}
	if len(args) == 4 {
		body["description"] = args[3]
	}

	var lib struct {
		ID         string `json:"id"`
		Context7ID string `json:"context7_id"`
	}
	if err := doJSON("POST", "/api/v1/libraries", body, &lib); err != nil {
		return err
	}
	fmt.Printf("Created library %s (%s)\n", lib.ID, lib.Context7ID)
	return nil
}

func runListLibraries(cmd *cobra.Command, args []string) error {
	var list struct {
		Libraries []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Context7ID string `json:"context7_id"`
			Language   string `json:"language"`
		} `json:"libraries"`
		Total int `json:"total"`
	}
	if err := doJSON("GET", "/api/v1/libraries", nil, &list); err != nil {
		return err
	}
	for _, lib := range list.Libraries {
		fmt.Printf("%s\t%s\t%s\t%s\n", lib.ID, lib.Context7ID, lib.Name, lib.Language)
	}
	fmt.Fprintf(os.Stderr, "%d libraries\n", list.Total)
	return nil
}

func runUploadDoc(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	title := ""

	if args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
		title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	if len(args) == 3 {
		title = args[2]
	}

	body := map[string]string{
		"library_id": args[1],
		"title":      title,
		"content":    string(content),
	}

	var doc struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		ChunkCount int    `json:"chunk_count"`
	}
	if err := doJSON("POST", "/api/v1/documents", body, &doc); err != nil {
		return err
	}
	fmt.Printf("Uploaded %q as %s (%d chunks)\n", doc.Title, doc.ID, doc.ChunkCount)
	return nil
}

func runFetchDoc(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"url":        args[0],
		"library_id": args[1],
	}

	var doc struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		ChunkCount int    `json:"chunk_count"`
	}
	if err := doJSON("POST", "/api/v1/documents/fetch", body, &doc); err != nil {
		return err
	}
	fmt.Printf("Fetched %q as %s (%d chunks)\n", doc.Title, doc.ID, doc.ChunkCount)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"library": args[0],
		"query":   strings.Join(args[1:], " "),
		"k":       queryK,
	}

	var result struct {
		Markdown string `json:"markdown"`
	}
	if err := doJSON("POST", "/api/v1/query", body, &result); err != nil {
		return err
	}
	fmt.Println(result.Markdown)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"library_name": args[0],
		"query":        strings.Join(args[1:], " "),
	}

	var result struct {
		Selected struct {
			Name       string `json:"name"`
			Context7ID string `json:"context7_id"`
		} `json:"selected"`
		Score        float32 `json:"score"`
		Alternatives []struct {
			Library struct {
				Context7ID string `json:"context7_id"`
			} `json:"library"`
			Score float32 `json:"score"`
		} `json:"alternatives"`
	}
	if err := doJSON("POST", "/api/v1/resolve", body, &result); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t(score %.3f)\n", result.Selected.Context7ID, result.Selected.Name, result.Score)
	for _, alt := range result.Alternatives {
		fmt.Printf("  %s\t(score %.3f)\n", alt.Library.Context7ID, alt.Score)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", serverURL, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Printf("Server Status: %s\n", health.Status)
	return nil
}

// doJSON sends a JSON request and decodes a 2xx response into out.
func doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readError shapes a non-2xx response into an error, preferring the
// server's structured payload when it parses.
func readError(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	var payload ErrorPayload
	if json.Unmarshal(raw, &payload) == nil && payload.Code != "" {
		return fmt.Errorf("server returned status %d: %s: %s", resp.StatusCode, payload.Code, payload.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
}
