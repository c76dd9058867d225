package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	backendURL = flag.String("url", "http://localhost:8081", "backend base URL")
	password   = flag.String("password", "", "control password, if the backend requires one")
	tail       = flag.Duration("tail", 5*time.Second, "how long to tail the facial metrics socket")
)

var client = &http.Client{Timeout: 10 * time.Second}

// Проверка состояния
func testHealth() error {
	fmt.Println("\n[TEST] Testing /api/health...")
	body, err := get("/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	fmt.Printf("✓ Health check: %s\n", body)
	return nil
}

func testVersion() error {
	fmt.Println("\n[TEST] Testing /api/version...")
	body, err := get("/api/version")
	if err != nil {
		return fmt.Errorf("version failed: %v", err)
	}
	fmt.Printf("✓ Version: %s\n", body)
	return nil
}

func testStatus() error {
	fmt.Println("\n[TEST] Testing /api/detection/status...")
	body, err := get("/api/detection/status")
	if err != nil {
		return fmt.Errorf("status failed: %v", err)
	}

	var status struct {
		IsAlive   bool `json:"is_alive"`
		IsRunning bool `json:"is_running"`
	}
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		return fmt.Errorf("failed to parse status: %v", err)
	}
	fmt.Printf("✓ Detection alive=%v running=%v\n", status.IsAlive, status.IsRunning)
	return nil
}

// Проверка управления детекцией
func testControl(action string) error {
	fmt.Printf("\n[TEST] Testing /api/detection/%s...\n", action)
	req, _ := http.NewRequest(http.MethodPost, *backendURL+"/api/detection/"+action, nil)
	if *password != "" {
		req.SetBasicAuth("operator", *password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %v", action, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed: status %d, body: %s", action, resp.StatusCode, string(body))
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %v", err)
	}
	if !result.Success {
		fmt.Printf("⚠ %s was refused by the backend\n", action)
		return nil
	}
	fmt.Printf("✓ %s ok\n", action)
	return nil
}

func testEvents() error {
	fmt.Println("\n[TEST] Testing /api/events...")
	body, err := get("/api/events?limit=5")
	if err != nil {
		return fmt.Errorf("list events failed: %v", err)
	}

	var events []map[string]interface{}
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		return fmt.Errorf("failed to parse events: %v", err)
	}
	fmt.Printf("✓ Retrieved %d recent events\n", len(events))
	for _, e := range events {
		fmt.Printf("  - %v %v ear=%.3f at %v\n", e["event_type"], e["id"], e["ear"], e["timestamp"])
	}
	return nil
}

// Чтение метрик через WebSocket
func tailFacialMetrics(d time.Duration) error {
	fmt.Printf("\n[TEST] Tailing /ws/facial-metrics for %s...\n", d)
	u, err := url.Parse(*backendURL)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws/facial-metrics"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d)
	conn.SetReadDeadline(deadline)
	received := 0
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		if err := conn.ReadJSON(&last); err != nil {
			break
		}
		received++
	}
	if received == 0 {
		return fmt.Errorf("no metrics received")
	}
	fmt.Printf("✓ Received %d snapshots, last: ear=%v mar=%v drowsy=%v yawning=%v calling=%v fps=%v\n",
		received, last["ear"], last["mar"], last["is_drowsy"], last["is_yawning"], last["is_calling"], last["fps"])
	return nil
}

func get(path string) (string, error) {
	resp, err := client.Get(*backendURL + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	return strings.TrimSpace(string(body)), nil
}

func main() {
	flag.Parse()

	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("DRIVER MONITOR - Backend Testing Client")
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("\n[INFO] Make sure the Go backend is running on", *backendURL)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Health Check", testHealth},
		{"Version", testVersion},
		{"Status", testStatus},
		{"Pause", func() error { return testControl("pause") }},
		{"Resume", func() error { return testControl("resume") }},
		{"Status", testStatus},
		{"Events", testEvents},
		{"Facial Metrics", func() error { return tailFacialMetrics(*tail) }},
	}

	for _, test := range tests {
		if err := test.fn(); err != nil {
			log.Printf("❌ %s failed: %v", test.name, err)
			os.Exit(1)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("✅ All tests completed successfully!")
	fmt.Println("=" + strings.Repeat("=", 60))
}
