package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/storylab/threadline/llm"
)

// DeepSeekProvider speaks the OpenAI-compatible API against the DeepSeek
// endpoint. Separate from OpenAIProvider for its own default URL and key.
type DeepSeekProvider struct {
	OpenAIProvider // Embed for shared request/response format
}

func init() {
	llm.RegisterProvider(&DeepSeekProvider{})
}

// Name returns the provider identifier.
func (d *DeepSeekProvider) Name() string {
	return "deepseek"
}

// BuildURL constructs the DeepSeek API endpoint.
func (d *DeepSeekProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds DeepSeek authentication headers.
func (d *DeepSeekProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
