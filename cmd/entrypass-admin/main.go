// ABOUTME: Operator CLI for the entry pass service
// ABOUTME: Drives admin actions over the HTTP endpoint with the pre-shared secret

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	endpoint := os.Getenv("ENTRYPASS_URL")
	if endpoint == "" {
		endpoint = "http://localhost:8080/entry_pass"
	}
	secret := os.Getenv("ENTRYPASS_ADMIN_SECRET")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "generate-link":
		err = cmdGenerateLink(endpoint, secret, args)
	case "resolve":
		err = cmdResolve(endpoint, args)
	case "check-in":
		err = cmdCheckIn(endpoint, args)
	case "send-email":
		err = cmdSendEmail(endpoint, secret, args)
	case "bulk-send":
		err = cmdBulkSend(endpoint, secret, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: entrypass-admin <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  generate-link --row-hash HASH [--base-url URL]   Issue an entry pass link")
	fmt.Println("  resolve --token TOKEN                            Show participant + check-in state")
	fmt.Println("  check-in --token TOKEN --pin PIN                 Record a check-in")
	fmt.Println("  send-email --row-hash HASH [--subject S]         Mail one participant their pass")
	fmt.Println("  bulk-send [--subject S]                          Mail passes to all paid participants")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ENTRYPASS_URL           Endpoint (default http://localhost:8080/entry_pass)")
	fmt.Println("  ENTRYPASS_ADMIN_SECRET  Pre-shared admin secret for admin commands")
}

func cmdGenerateLink(endpoint, secret string, args []string) error {
	fs := flag.NewFlagSet("generate-link", flag.ExitOnError)
	rowHash := fs.String("row-hash", "", "participant row hash")
	baseURL := fs.String("base-url", "", "base URL for the link")
	fs.Parse(args)

	body := map[string]any{"action": "generate_link", "row_hash": *rowHash}
	if *baseURL != "" {
		body["baseUrl"] = *baseURL
	}

	resp, err := call(endpoint, secret, body)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("OK ")
	fmt.Println(resp["url"])
	return nil
}

func cmdResolve(endpoint string, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	tok := fs.String("token", "", "entry pass token")
	fs.Parse(args)

	resp, err := call(endpoint, "", map[string]any{"action": "resolve", "token": *tok})
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	if participant, ok := resp["participant"].(map[string]any); ok {
		cyan.Printf("row %v\n", participant["row_number"])
		if data, ok := participant["data"].(map[string]any); ok {
			for k, v := range data {
				fmt.Printf("  %s: %v\n", k, v)
			}
		}
	}
	if checkin, ok := resp["checkin"].(map[string]any); ok && checkin != nil {
		color.Yellow("checked in at %v by %v\n", checkin["checked_in_at"], checkin["checked_in_by"])
	} else {
		fmt.Println("not checked in")
	}
	return nil
}

func cmdCheckIn(endpoint string, args []string) error {
	fs := flag.NewFlagSet("check-in", flag.ExitOnError)
	tok := fs.String("token", "", "entry pass token")
	pin := fs.String("pin", "", "admin PIN")
	fs.Parse(args)

	_, err := call(endpoint, "", map[string]any{"action": "check_in", "token": *tok, "pin": *pin})
	if err != nil {
		return err
	}
	color.Green("OK checked in\n")
	return nil
}

func cmdSendEmail(endpoint, secret string, args []string) error {
	fs := flag.NewFlagSet("send-email", flag.ExitOnError)
	rowHash := fs.String("row-hash", "", "participant row hash")
	baseURL := fs.String("base-url", "", "base URL for the link")
	subject := fs.String("subject", "", "mail subject")
	from := fs.String("from", "", "sender address")
	fs.Parse(args)

	body := map[string]any{"action": "send_email", "row_hash": *rowHash}
	for key, val := range map[string]string{"baseUrl": *baseURL, "subject": *subject, "from": *from} {
		if val != "" {
			body[key] = val
		}
	}

	resp, err := call(endpoint, secret, body)
	if err != nil {
		return err
	}
	color.Green("OK sent\n")
	fmt.Println(resp["url"])
	return nil
}

func cmdBulkSend(endpoint, secret string, args []string) error {
	fs := flag.NewFlagSet("bulk-send", flag.ExitOnError)
	baseURL := fs.String("base-url", "", "base URL for the links")
	subject := fs.String("subject", "", "mail subject")
	from := fs.String("from", "", "sender address")
	fs.Parse(args)

	body := map[string]any{"action": "bulk_send"}
	for key, val := range map[string]string{"baseUrl": *baseURL, "subject": *subject, "from": *from} {
		if val != "" {
			body[key] = val
		}
	}

	resp, err := call(endpoint, secret, body)
	if err != nil {
		return err
	}

	results, _ := resp["results"].([]any)
	var sent, skipped, failed int
	for _, r := range results {
		res, _ := r.(map[string]any)
		switch {
		case res["skipped"] == true:
			skipped++
			color.Yellow("SKIP %v (%v)\n", res["row_hash"], res["reason"])
		case res["sent"] == true:
			sent++
			color.Green("SENT %v\n", res["row_hash"])
		default:
			failed++
			color.Red("FAIL %v: %v\n", res["row_hash"], res["error"])
		}
	}
	fmt.Printf("\n%d sent, %d skipped, %d failed\n", sent, skipped, failed)
	return nil
}

// call posts one action request and decodes the response, surfacing the
// server's error body as an error.
func call(endpoint, secret string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("x-admin-secret", secret)
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, data)
	}
	if resp.StatusCode != http.StatusOK {
		if msg, ok := decoded["error"].(string); ok {
			return nil, fmt.Errorf("%s (%d)", msg, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed (%d)", resp.StatusCode)
	}
	return decoded, nil
}
