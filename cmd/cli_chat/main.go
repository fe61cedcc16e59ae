// cli_chat es un adaptador de consola minimo contra el endpoint /v1/chat:
// util para probar un personaje sin levantar un bot de plataforma.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

type chatRequest struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	Platform    string `json:"platform"`
	ChannelType string `json:"channel_type"`
	Content     string `json:"content"`
}

type chatResponse struct {
	ResponseText     string `json:"response_text"`
	Success          bool   `json:"success"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "runtime base URL")
	token := flag.String("token", "", "bearer token (optional)")
	userID := flag.String("user", "cli-user", "user id")
	characterID := flag.String("character", "", "character id (required)")
	flag.Parse()

	if *characterID == "" {
		fmt.Fprintln(os.Stderr, "usage: cli_chat -character <id> [-user <id>] [-url <base>] [-token <jwt>]")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("Chatting with %s. Type /quit to exit.\n", *characterID)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		resp, err := send(client, *baseURL, *token, chatRequest{
			UserID:      *userID,
			CharacterID: *characterID,
			Platform:    "cli",
			ChannelType: "direct",
			Content:     line,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s  (%dms)\n", resp.ResponseText, resp.ProcessingTimeMs)
	}
}

func send(client *http.Client, baseURL, token string, req chatRequest) (chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return chatResponse{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("runtime returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return parsed, nil
}
