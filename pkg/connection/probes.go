package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/orchestra/pkg/connector"
)

// probeTimeout bounds every first-class provider probe so Test never hangs
// past the synchronous HTTP request it's serving.
const probeTimeout = 10 * time.Second

// prober is a first-class connection test, grounded in the provider's real
// cheapest authenticated endpoint (spec §4.2: "provider-specific probe").
type prober func(ctx context.Context, creds Credentials) (connector.ProbeResult, error)

var firstClassProbers = map[string]prober{
	"openai": probeOpenAI,
	"gemini": probeGemini,
	"claude": probeClaude,
	"slack":  probeSlack,
}

func probeHTTP(ctx context.Context, method, url string, headers map[string]string) (connector.ProbeResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return connector.ProbeResult{}, fmt.Errorf("building probe request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.ProbeResult{Success: false, Error: err.Error(), ResponseTime: time.Since(start)}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	elapsed := time.Since(start)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return connector.ProbeResult{Success: true, Message: "credentials valid", ResponseTime: elapsed}, nil
	}
	return connector.ProbeResult{
		Success:      false,
		Error:        fmt.Sprintf("unexpected status %d", resp.StatusCode),
		ResponseTime: elapsed,
	}, nil
}

func probeOpenAI(ctx context.Context, creds Credentials) (connector.ProbeResult, error) {
	key, _ := creds["apiKey"].(string)
	if key == "" {
		return connector.ProbeResult{Success: false, Error: "missing apiKey"}, nil
	}
	return probeHTTP(ctx, http.MethodGet, "https://api.openai.com/v1/models", map[string]string{
		"Authorization": "Bearer " + key,
	})
}

func probeGemini(ctx context.Context, creds Credentials) (connector.ProbeResult, error) {
	key, _ := creds["apiKey"].(string)
	if key == "" {
		return connector.ProbeResult{Success: false, Error: "missing apiKey"}, nil
	}
	url := "https://generativelanguage.googleapis.com/v1beta/models?key=" + key
	return probeHTTP(ctx, http.MethodGet, url, nil)
}

func probeClaude(ctx context.Context, creds Credentials) (connector.ProbeResult, error) {
	key, _ := creds["apiKey"].(string)
	if key == "" {
		return connector.ProbeResult{Success: false, Error: "missing apiKey"}, nil
	}
	return probeHTTP(ctx, http.MethodGet, "https://api.anthropic.com/v1/models", map[string]string{
		"x-api-key":         key,
		"anthropic-version": "2023-06-01",
	})
}

func probeSlack(ctx context.Context, creds Credentials) (connector.ProbeResult, error) {
	token, _ := creds["botToken"].(string)
	if token == "" {
		token, _ = creds["accessToken"].(string)
	}
	if token == "" {
		return connector.ProbeResult{Success: false, Error: "missing botToken"}, nil
	}

	start := time.Now()
	client := goslack.New(token)
	resp, err := client.AuthTestContext(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return connector.ProbeResult{Success: false, Error: err.Error(), ResponseTime: elapsed}, nil
	}
	return connector.ProbeResult{
		Success:      true,
		Message:      fmt.Sprintf("authenticated as %s in team %s", resp.User, resp.Team),
		ResponseTime: elapsed,
	}, nil
}

// runTest dispatches to a first-class prober when one exists for provider,
// otherwise to the generic ConnectorInvoker.TestConnection boundary.
func runTest(ctx context.Context, provider string, creds Credentials, invoker connector.Invoker) (connector.ProbeResult, error) {
	if p, ok := firstClassProbers[provider]; ok {
		return p(ctx, creds)
	}
	if invoker == nil {
		return connector.ProbeResult{Success: false, Error: "no connector invoker configured for provider " + provider}, nil
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return connector.ProbeResult{}, fmt.Errorf("marshaling credentials for probe: %w", err)
	}
	return invoker.TestConnection(ctx, provider, body)
}
