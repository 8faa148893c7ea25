// lgn is the operator's command line for a running legiond gateway. It
// talks to the web API; set LEGIOND_URL and LEGIOND_PASSWORD to point it
// somewhere other than the local default.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

type clientConfig struct {
	baseURL  string
	password string
}

func loadClientConfig() clientConfig {
	cfg := clientConfig{
		baseURL:  os.Getenv("LEGIOND_URL"),
		password: os.Getenv("LEGIOND_PASSWORD"),
	}
	if cfg.baseURL == "" {
		cfg.baseURL = "http://localhost:8080"
	}
	return cfg
}

func (c clientConfig) do(method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth("operator", c.password)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return data, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lgn status")
	fmt.Fprintln(os.Stderr, "  lgn minions --legion <name>")
	fmt.Fprintln(os.Stderr, `  lgn create --legion <name> --name "..." [--role "..."] [--instructions "..."]`)
	fmt.Fprintln(os.Stderr, `  lgn send --legion <name> --to <minion|#channel> --content "..." [--type task]`)
	fmt.Fprintln(os.Stderr, "  lgn terminate --legion <name> --name <minion>")
	fmt.Fprintln(os.Stderr, "  lgn halt --legion <name>")
	fmt.Fprintln(os.Stderr, "  lgn resume --legion <name>")
	fmt.Fprintln(os.Stderr, `  lgn search --legion <name> --q <keyword>`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	cfg := loadClientConfig()

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	args := parseArgs(os.Args[2:])
	legionRef := args["legion"]

	switch command {
	case "status":
		data, err := cfg.do("GET", "/api/status", nil)
		if err != nil {
			fatal("%v", err)
		}
		var status struct {
			Version string `json:"version"`
			Uptime  string `json:"uptime"`
			Legions []struct {
				Name     string `json:"name"`
				Minions  int    `json:"minions"`
				Active   int    `json:"active"`
				Paused   int    `json:"paused"`
				Errored  int    `json:"errored"`
				Hordes   int    `json:"hordes"`
				Channels int    `json:"channels"`
				Comms    int64  `json:"comms"`
			} `json:"legions"`
		}
		if err := json.Unmarshal(data, &status); err != nil {
			fatal("decode response: %v", err)
		}
		fmt.Printf("legiond %s, up %s\n", status.Version, status.Uptime)
		for _, l := range status.Legions {
			fmt.Printf("  %s: %d minions (%d active, %d paused, %d errored), %d hordes, %d channels, %d comms\n",
				l.Name, l.Minions, l.Active, l.Paused, l.Errored, l.Hordes, l.Channels, l.Comms)
		}

	case "minions":
		if legionRef == "" {
			fatal("--legion is required")
		}
		data, err := cfg.do("GET", "/api/legions/"+legionRef+"/minions", nil)
		if err != nil {
			fatal("%v", err)
		}
		var minions []struct {
			Name       string `json:"name"`
			Role       string `json:"role"`
			State      string `json:"state"`
			IsOverseer bool   `json:"is_overseer"`
		}
		if err := json.Unmarshal(data, &minions); err != nil {
			fatal("decode response: %v", err)
		}
		if len(minions) == 0 {
			fmt.Println("No minions.")
			return
		}
		for _, m := range minions {
			marker := " "
			if m.IsOverseer {
				marker = "*"
			}
			fmt.Printf("  %s %-20s %-20s %s\n", marker, m.Name, m.Role, m.State)
		}

	case "create":
		if legionRef == "" || args["name"] == "" {
			fatal("--legion and --name are required")
		}
		data, err := cfg.do("POST", "/api/legions/"+legionRef+"/minions", map[string]any{
			"name":         args["name"],
			"role":         args["role"],
			"instructions": args["instructions"],
		})
		if err != nil {
			fatal("%v", err)
		}
		var m struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			fatal("decode response: %v", err)
		}
		fmt.Printf("Minion created: %s (%s)\n", args["name"], m.State)

	case "send":
		if legionRef == "" || args["to"] == "" || args["content"] == "" {
			fatal("--legion, --to, and --content are required")
		}
		data, err := cfg.do("POST", "/api/legions/"+legionRef+"/comms", map[string]any{
			"to":      args["to"],
			"type":    args["type"],
			"content": args["content"],
		})
		if err != nil {
			fatal("%v", err)
		}
		var result struct {
			CommID   string `json:"comm_id"`
			Notified int    `json:"notified"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			fatal("decode response: %v", err)
		}
		fmt.Printf("Delivered to %d recipient(s): %s\n", result.Notified, result.CommID)

	case "terminate":
		if legionRef == "" || args["name"] == "" {
			fatal("--legion and --name are required")
		}
		data, err := cfg.do("DELETE", "/api/legions/"+legionRef+"/minions/"+args["name"], nil)
		if err != nil {
			fatal("%v", err)
		}
		var result struct {
			Descendants int `json:"descendants"`
		}
		_ = json.Unmarshal(data, &result)
		fmt.Printf("Terminated %s and %d descendant(s).\n", args["name"], result.Descendants)

	case "halt":
		if legionRef == "" {
			fatal("--legion is required")
		}
		data, err := cfg.do("POST", "/api/legions/"+legionRef+"/halt", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		var result struct {
			Halted int `json:"halted"`
		}
		_ = json.Unmarshal(data, &result)
		fmt.Printf("Halted %d minion(s).\n", result.Halted)

	case "resume":
		if legionRef == "" {
			fatal("--legion is required")
		}
		data, err := cfg.do("POST", "/api/legions/"+legionRef+"/resume", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		var result struct {
			Resumed int `json:"resumed"`
		}
		_ = json.Unmarshal(data, &result)
		fmt.Printf("Resumed %d minion(s).\n", result.Resumed)

	case "search":
		if legionRef == "" || args["q"] == "" {
			fatal("--legion and --q are required")
		}
		data, err := cfg.do("GET", "/api/legions/"+legionRef+"/capabilities?q="+args["q"], nil)
		if err != nil {
			fatal("%v", err)
		}
		var matches []struct {
			MinionName string  `json:"minion_name"`
			Role       string  `json:"role"`
			Score      float64 `json:"score"`
		}
		if err := json.Unmarshal(data, &matches); err != nil {
			fatal("decode response: %v", err)
		}
		if len(matches) == 0 {
			fmt.Println("No matches.")
			return
		}
		for _, m := range matches {
			fmt.Printf("  %s  %-20s %s\n", strconv.FormatFloat(m.Score, 'f', 2, 64), m.MinionName, m.Role)
		}

	default:
		fatal("unknown command: %s", command)
	}
}
