package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/verify"
)

// processSnippets expands one snippet_check record into zero or more
// output records: every public snippet whose author is not trusted is
// emitted individually, preserving the order the API listed them in.
func (p *Processor) processSnippets(ctx context.Context) error {
	snippets, err := p.platform.PublicSnippets(ctx)
	if err != nil {
		p.processed.WithLabelValues(string(event.SnippetCheck), "retried").Inc()
		return err
	}

	for _, snippet := range snippets {
		if snippet.Author.Email != "" {
			result, err := p.verifier.VerifyEmail(ctx, snippet.Author.Email)
			if err != nil {
				// The whole record is redelivered; emitted snippets may be
				// scored twice, which at-least-once delivery permits.
				return fmt.Errorf("verifying snippet %d author: %w", snippet.ID, err)
			}
			if result.DomainVerified || result.UserVerified {
				p.logger.Debug("Skipping snippet from trusted author",
					"snippet_id", snippet.ID, "email", snippet.Author.Email)
				continue
			}
		}

		if err := p.Emit(ctx, event.SnippetCheck, snippet.Raw); err != nil {
			return err
		}
		p.processed.WithLabelValues(string(event.SnippetCheck), "emitted").Inc()
	}
	return nil
}

// VerifyHTTPClient queries the verification service's /verify_email
// endpoint. The two stages stay decoupled even when co-deployed.
type VerifyHTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVerifyHTTPClient creates the trust-query client. timeout applies per
// request.
func NewVerifyHTTPClient(baseURL string, timeout time.Duration) *VerifyHTTPClient {
	return &VerifyHTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// VerifyEmail asks the verification service whether the email is trusted.
func (c *VerifyHTTPClient) VerifyEmail(ctx context.Context, email string) (verify.VerifyEmailResponse, error) {
	var result verify.VerifyEmailResponse

	body, err := json.Marshal(verify.VerifyEmailRequest{Email: email})
	if err != nil {
		return result, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify_email", bytes.NewReader(body))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("querying verification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("verification service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decoding verification response: %w", err)
	}
	return result, nil
}
