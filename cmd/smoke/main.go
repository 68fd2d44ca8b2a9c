// Smoke client for a locally running narcomap-api with NARCOMAP_DEV_MODE=true.
// Walks the happy path over plain HTTP: request a code, verify it, submit a
// marker and read it back through the owner filter.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("NARCOMAP_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	phone := fmt.Sprintf("+7700%07d", rand.Intn(10_000_000))

	var issued struct {
		Status  string `json:"status"`
		DevCode string `json:"dev_code"`
	}
	post(client, base+"/v1/auth/request-code", "", map[string]any{"phone": phone}, &issued)
	if issued.DevCode == "" {
		log.Fatal("no dev_code in response; run the API with NARCOMAP_DEV_MODE=true")
	}

	var session struct {
		Actor struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"actor"`
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	post(client, base+"/v1/auth/verify-code", "", map[string]any{"phone": phone, "code": issued.DevCode}, &session)
	if session.Tokens.AccessToken == "" {
		log.Fatal("verify-code returned no access token")
	}
	if session.Actor.Role != "user" {
		log.Fatalf("first login role = %q, want user", session.Actor.Role)
	}

	var marker struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	post(client, base+"/v1/markers", session.Tokens.AccessToken, map[string]any{
		"title":     fmt.Sprintf("smoke-%d", rand.Int()),
		"latitude":  43.238949,
		"longitude": 76.889709,
		"category":  "trash",
	}, &marker)
	if marker.ID == "" {
		log.Fatal("submit returned no marker id")
	}
	if marker.Status != "new" && marker.Status != "approved" {
		log.Fatalf("unexpected marker status %q", marker.Status)
	}

	var listing struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	get(client, base+"/v1/markers?created_by="+session.Actor.ID, session.Tokens.AccessToken, &listing)
	found := false
	for _, it := range listing.Items {
		if it.ID == marker.ID {
			found = true
		}
	}
	if !found {
		log.Fatalf("submitted marker %s missing from own listing", marker.ID)
	}

	var stats struct {
		MarkerCount    int `json:"marker_count"`
		QuotaRemaining int `json:"quota_remaining"`
	}
	get(client, base+"/v1/me/stats", session.Tokens.AccessToken, &stats)
	if stats.MarkerCount < 1 {
		log.Fatalf("marker_count = %d, want >= 1", stats.MarkerCount)
	}

	fmt.Printf("✅ narcomap smoke test passed: actor=%s marker=%s quota_remaining=%d\n",
		session.Actor.ID, marker.ID, stats.QuotaRemaining)
}

func post(client *http.Client, url, token string, body, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("build %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	do(client, req, token, out)
}

func get(client *http.Client, url, token string, out any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("build %s: %v", url, err)
	}
	do(client, req, token, out)
}

func do(client *http.Client, req *http.Request, token string, out any) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&e)
		log.Fatalf("%s %s: status %d, %v", req.Method, req.URL, resp.StatusCode, e)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", req.URL, err)
	}
}
