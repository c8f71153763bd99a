package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Conversation struct {
	ID           string  `json:"id"`
	Phone        string  `json:"phone"`
	Name         string  `json:"name"`
	LeadID       *string `json:"lead_id"`
	Unread       bool    `json:"unread"`
	MessageCount int     `json:"message_count"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type listResponse[T any] struct {
	Data     []T  `json:"data"`
	Degraded bool `json:"degraded"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var client = &http.Client{Timeout: 15 * time.Second}

func get(url, token string, dest interface{}) (int, error) {
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%s", body)
	}
	return resp.StatusCode, json.Unmarshal(body, dest)
}

// diagnose_chat logs in and walks every workspace inbox, reporting lists the
// server served degraded and conversations not yet linked to a lead.
func main() {
	baseURL := getenv("CRM_BASE_URL", "http://localhost:8080") + "/api/v1"
	email := getenv("CRM_EMAIL", "owner@example.com")
	password := getenv("CRM_PASSWORD", "password123")

	fmt.Println("=== CHAT DIAGNOSTIC ===")

	fmt.Printf("\n1. Logging in as %s...\n", email)
	jsonBody, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := client.Post(baseURL+"/auth/login", "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		fmt.Printf("   Login failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("   Login failed (status %d): %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}
	var login LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		fmt.Printf("   Failed to decode login response: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n2. Listing workspaces...")
	var workspaces listResponse[Workspace]
	if status, err := get(baseURL+"/workspaces", login.Token, &workspaces); err != nil {
		fmt.Printf("   Status %d: %v\n", status, err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d workspaces\n", len(workspaces.Data))

	for _, ws := range workspaces.Data {
		fmt.Printf("\n--- %s (%s) ---\n", ws.Name, ws.ID)

		var convs listResponse[Conversation]
		status, err := get(baseURL+"/workspaces/"+ws.ID+"/conversations", login.Token, &convs)
		if err != nil {
			fmt.Printf("   Conversations failed (status %d): %v\n", status, err)
			continue
		}
		if convs.Degraded {
			fmt.Println("   WARNING: conversation list served empty after a failed read")
		}
		fmt.Printf("   Conversations: %d\n", len(convs.Data))

		var unlinked, unread int
		for _, c := range convs.Data {
			if c.LeadID == nil {
				unlinked++
			}
			if c.Unread {
				unread++
			}
		}
		fmt.Printf("   Without lead: %d, unread: %d\n", unlinked, unread)

		if len(convs.Data) == 0 {
			continue
		}
		first := convs.Data[0]
		var msgs listResponse[json.RawMessage]
		if status, err := get(baseURL+"/workspaces/"+ws.ID+"/conversations/"+first.ID+"/messages", login.Token, &msgs); err != nil {
			fmt.Printf("   Messages of %s failed (status %d): %v\n", first.Phone, status, err)
			continue
		}
		fmt.Printf("   Latest thread %s: %d messages (degraded=%v)\n", first.Phone, len(msgs.Data), msgs.Degraded)
	}

	fmt.Println("\n=== END DIAGNOSTIC ===")
}
