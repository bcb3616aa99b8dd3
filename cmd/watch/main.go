// Command watch starts a pipeline run against a running server and renders
// the derived node statuses in the terminal as the event stream arrives.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/progress"
)

func main() {
	url := flag.String("url", "http://localhost:3000/api/workflow/run", "SSE trigger endpoint")
	flag.Parse()

	resp, err := http.Get(*url)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Server refused the run (status %d)", resp.StatusCode)
	}

	proj := progress.New()
	proj.Begin()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			log.Printf("Skipping malformed event: %v", err)
			continue
		}

		proj.Observe(event)
		render(proj, event)
	}
	if err := scanner.Err(); err != nil {
		proj.Abort(fmt.Sprintf("stream error: %v", err))
	}

	// A stream that ends without a terminal event is an implicit error.
	if proj.Running() {
		proj.Abort("")
		render(proj, model.Event{})
	}

	if msg := proj.Err(); msg != "" {
		fmt.Fprintf(os.Stderr, "Run failed: %s\n", msg)
		os.Exit(1)
	}
}

func render(proj *progress.Projector, last model.Event) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Step", "Status"})
	for _, step := range model.StepOrder {
		t.AppendRow(table.Row{step, string(proj.Status(step))})
	}
	t.AppendFooter(table.Row{"progress", fmt.Sprintf("%d%%", proj.Progress())})

	fmt.Println(t.Render())
	if last.Message != "" {
		fmt.Printf("%s: %s\n", last.Step, last.Message)
	}
	fmt.Println()
}
