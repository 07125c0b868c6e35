package backfill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type sessionLine struct {
	Type       string         `json:"type"`
	UUID       string         `json:"uuid"`
	ParentUUID *string        `json:"parentUuid"`
	Timestamp  string         `json:"timestamp"`
	Message    sessionMessage `json:"message"`
}

type sessionMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ParseSessionFile reads a parent-linked session log in chain order. Tool
// results, tool calls and thinking blocks are dropped.
func ParseSessionFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	byUUID := make(map[string]*sessionLine)
	var roots, order []string
	children := make(map[string]string)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		var line sessionLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "user" && line.Type != "assistant" {
			continue
		}

		byUUID[line.UUID] = &line
		order = append(order, line.UUID)
		if line.ParentUUID == nil || *line.ParentUUID == "" {
			roots = append(roots, line.UUID)
		} else {
			children[*line.ParentUUID] = line.UUID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	visited := make(map[string]bool, len(byUUID))
	var chain []*sessionLine
	for _, id := range roots {
		for cur := id; cur != "" && !visited[cur]; cur = children[cur] {
			if line, ok := byUUID[cur]; ok {
				chain = append(chain, line)
				visited[cur] = true
			}
		}
	}
	// Orphans keep file order after the chain.
	for _, id := range order {
		if !visited[id] {
			chain = append(chain, byUUID[id])
			visited[id] = true
		}
	}

	var msgs []Message
	for _, line := range chain {
		role, ok := roleOf(line.Type)
		if !ok {
			continue
		}
		text, toolResult := sessionText(line.Message.Content)
		if toolResult || text == "" {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, line.Timestamp)
		msgs = append(msgs, Message{Role: role, Text: text, Timestamp: ts})
	}
	return msgs, nil
}

// sessionText returns the text of a message and whether it is a tool result.
func sessionText(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, false
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}
	for _, b := range blocks {
		if b.Type == "tool_result" {
			return "", true
		}
	}
	return joinText(blocks), false
}

func joinText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
