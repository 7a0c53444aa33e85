// ABOUTME: Simulated agent that reports activity to a pairwatch server on an interval
// ABOUTME: Usage: pairwatch-agent [-addr localhost:8080] [-agent claude-a] [-peer claude-b]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/2389/pairwatch/internal/agentclient"
	"github.com/2389/pairwatch/internal/monitor"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "pairwatch HTTP address")
	agentID := flag.String("agent", "claude-a", "This agent's ID")
	peerID := flag.String("peer", "claude-b", "Peer agent's ID")
	interval := flag.Duration("interval", 5*time.Second, "Reporting interval")
	token := flag.String("token", "", "Bearer token (optional)")
	flag.Parse()

	if err := run(*addr, *agentID, *peerID, *interval, *token); err != nil {
		log.Fatal(err)
	}
}

func run(addr, agentID, peerID string, interval time.Duration, token string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	responder := agentclient.NewStaticResponder([]agentclient.Reply{
		{Text: "working through the shared plan", IntegrityScore: 100},
		{Text: "applying the next change", IntegrityScore: 98},
		{Text: "reviewing the peer's edits", IntegrityScore: 96},
		{Text: "tests pass, moving on", IntegrityScore: 100},
	})

	url := fmt.Sprintf("http://%s/api/activity", addr)
	client := &http.Client{Timeout: 10 * time.Second}

	log.Printf("reporting as %s (peer %s) to %s every %s", agentID, peerID, addr, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("shutting down")
			return nil
		case <-ticker.C:
			if err := report(ctx, client, url, token, responder, agentID, peerID); err != nil {
				log.Printf("report failed: %v", err)
			}
		}
	}
}

// report asks the responder for a turn and posts the resulting activity.
func report(ctx context.Context, client *http.Client, url, token string, responder agentclient.Responder, agentID, peerID string) error {
	start := time.Now()
	reply, err := responder.Respond(ctx, agentID, "status update")
	if err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	latency := int(time.Since(start).Milliseconds()) + rand.Intn(200)

	messages := 1 + rand.Intn(3)
	payload := map[string]any{
		"agent_a": agentID,
		"agent_b": peerID,
		"agent":   agentID,
		"report": monitor.Report{
			MessageCount: &messages,
			LatencyMS:    &latency,
			Integrity:    &reply.IntegrityScore,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	log.Printf("reported %d messages, latency %dms (%s)", messages, latency, reply.Text)
	return nil
}
