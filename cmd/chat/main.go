package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8100", "relay server URL")
	user := flag.String("user", "cli-user", "User name for chat")
	verbose := flag.Bool("v", false, "show the plan and worker results for each answer")
	timeout := flag.Duration("timeout", 3*time.Minute, "per-request timeout")
	flag.Parse()

	fmt.Println("Relay CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Slash commands (/help, /workers, /plan, /status, /events) run on the relay.")
	fmt.Println("---")

	client := &http.Client{Timeout: *timeout}
	fetchWorkers(client, *server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if *verbose && !strings.HasPrefix(input, "/") {
			query(client, *server, input)
			continue
		}
		sendMessage(client, *server, *user, input)
	}
}

func fetchWorkers(client *http.Client, server string) {
	resp, err := client.Get(server + "/api/workers")
	if err != nil {
		printError("Failed to fetch workers: %v", err)
		return
	}
	defer resp.Body.Close()

	var workers []struct {
		ID          string `json:"id"`
		Transport   string `json:"transport"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		printError("Failed to parse workers: %v", err)
		return
	}
	fmt.Println("Workers:")
	for _, w := range workers {
		fmt.Printf("  %s [%s] %s\n", w.ID, w.Transport, w.Description)
	}
}

// sendMessage goes through the REST gateway, so slash commands work too.
func sendMessage(client *http.Client, server, user, content string) {
	body, _ := json.Marshal(map[string]string{
		"user_id":   user,
		"user_name": user,
		"content":   content,
	})
	resp, err := client.Post(server+"/api/gateway/rest/message", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var msg struct {
		Content   string   `json:"content"`
		RequestID string   `json:"request_id"`
		Source    string   `json:"source"`
		Failed    []string `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	if msg.Source != "" {
		fmt.Printf("\033[36m[%s]\033[0m %s\n", msg.Source, msg.Content)
	} else {
		fmt.Println(msg.Content)
	}
	if len(msg.Failed) > 0 {
		printError("failed workers: %s", strings.Join(msg.Failed, ", "))
	}
}

// query calls the direct query endpoint and prints the whole result.
func query(client *http.Client, server, q string) {
	body, _ := json.Marshal(map[string]string{"query": q})
	resp, err := client.Post(server+"/api/query", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var res struct {
		RequestID  string `json:"request_id"`
		Complexity string `json:"complexity"`
		Plan       struct {
			Workers  []string `json:"workers"`
			Mode     string   `json:"mode"`
			Fallback string   `json:"fallback"`
		} `json:"plan"`
		Results []struct {
			WorkerID string `json:"worker_id"`
			OK       bool   `json:"ok"`
			Category string `json:"category"`
			Message  string `json:"message"`
		} `json:"results"`
		Answer struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		} `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	fmt.Printf("\033[90mrequest %s | %s | %s %v", res.RequestID, res.Complexity, res.Plan.Mode, res.Plan.Workers)
	if res.Plan.Fallback != "" {
		fmt.Printf(" (fallback: %s)", res.Plan.Fallback)
	}
	fmt.Println("\033[0m")
	for _, r := range res.Results {
		if r.OK {
			fmt.Printf("\033[90m  %s: ok\033[0m\n", r.WorkerID)
		} else {
			fmt.Printf("\033[31m  %s: %s %s\033[0m\n", r.WorkerID, r.Category, r.Message)
		}
	}
	fmt.Printf("\033[36m[%s]\033[0m %s\n", res.Answer.Source, res.Answer.Text)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
