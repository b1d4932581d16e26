package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-5-mini"
)

func init() {
	RegisterFactory(ProviderOpenAI, newOpenAIProviderFromConfig, validateOpenAIConfig)
}

func validateOpenAIConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" && strings.TrimSpace(cfg.Providers.OpenAI.APIKeyFile) == "" {
		return fmt.Errorf("OpenAI credentials are required (set providers.openai.api_key or providers.openai.api_key_file)")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) != "" && strings.TrimSpace(cfg.Providers.OpenAI.APIKeyFile) != "" {
		return fmt.Errorf("multiple OpenAI credential sources configured; set only one of api_key, api_key_file")
	}
	return nil
}

func newOpenAIProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	var auth AuthStrategy
	if key := strings.TrimSpace(cfg.Providers.OpenAI.APIKey); key != "" {
		auth = NewAPIKeyAuth(NewStaticTokenSource(key, "providers.openai.api_key"))
	} else {
		auth = NewBearerTokenAuth(NewFileTokenSource(cfg.Providers.OpenAI.APIKeyFile))
	}

	apiBase := strings.TrimSpace(cfg.Providers.OpenAI.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenAIAPIBase
	}
	extraHeaders := map[string]string{}
	if org := strings.TrimSpace(cfg.Providers.OpenAI.Organization); org != "" {
		extraHeaders["OpenAI-Organization"] = org
	}

	return newChatCompletionsProvider(
		ProviderOpenAI,
		apiBase,
		defaultOpenAIModel,
		strings.TrimSpace(cfg.Providers.OpenAI.Proxy),
		auth,
		extraHeaders,
	)
}
