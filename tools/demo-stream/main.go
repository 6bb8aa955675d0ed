// demo-stream submits demonstration scans to a running repovet server and
// tails its live event stream, printing one line per event. Point it at a
// server, wait a few minutes, and dashboards and webhook consumers have
// realistic activity to show.
//
// Usage:
//
//	go run . [-addr 127.0.0.1:8642] [-token TOKEN] [-interval 20s] [repo-url...]
//
// Without repo arguments a built-in rotation of well-known repositories is
// submitted. With -interval 0 nothing is submitted and the tool only tails
// the stream.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var defaultRepos = []string{
	"https://github.com/expressjs/express",
	"https://github.com/lodash/lodash",
	"https://github.com/axios/axios",
	"https://github.com/fastify/fastify",
	"https://github.com/chalk/chalk",
}

// eventFrame mirrors the server's event stream payload.
type eventFrame struct {
	Severity  string         `json:"severity"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Instance  string         `json:"repovet_instance"`
	Fields    map[string]any `json:"fields"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8642", "repovet server address")
	token := flag.String("token", "", "bearer token when the server requires auth")
	interval := flag.Duration("interval", 20*time.Second, "delay between demo submissions; 0 disables submitting")
	duration := flag.Duration("duration", 10*time.Minute, "how long to run before auto-exit")
	flag.Parse()

	repos := flag.Args()
	if len(repos) == 0 {
		repos = defaultRepos
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	dialer := ws.Dialer{Timeout: 10 * time.Second}
	if *token != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + *token},
		})
	}
	conn, _, _, err := dialer.Dial(ctx, "ws://"+*addr+"/api/v1/events")
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	log.Printf("tailing events from %s", *addr)

	// Unblock the read loop when the context ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if *interval > 0 {
		go submitLoop(ctx, *addr, *token, repos, *interval)
	}

	for {
		payload, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				log.Print("done")
				return
			}
			log.Fatalf("event stream closed: %v", err)
		}
		var frame eventFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Printf("undecodable frame: %v", err)
			continue
		}
		printEvent(frame)
	}
}

// submitLoop rotates through repos, submitting one scan per tick.
func submitLoop(ctx context.Context, addr, token string, repos []string, interval time.Duration) {
	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		repo := repos[i%len(repos)]
		if err := submit(ctx, client, addr, token, repo); err != nil {
			log.Printf("submit %s: %v", repo, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func submit(ctx context.Context, client *http.Client, addr, token, repo string) error {
	body, err := json.Marshal(map[string]string{"repo_url": repo})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+addr+"/api/v1/scans", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// printEvent renders one event as a single aligned line with its fields
// sorted for stable output.
func printEvent(frame eventFrame) {
	ts := frame.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		ts = t.Local().Format("15:04:05")
	}

	keys := make([]string, 0, len(frame.Fields))
	for k := range frame.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, frame.Fields[k])
	}
	fmt.Fprintf(os.Stdout, "%s %-7s %-16s%s\n", ts, strings.ToUpper(frame.Severity), frame.Type, b.String())
}
