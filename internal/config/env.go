package config

import (
	"os"
	"strconv"
)

// ApplyEnv overrides secrets and deployment values from the environment. Variables that are
// unset or empty leave the current value in place.
func ApplyEnv(cfg *Config) {
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY", cfg.LLM.Provider == "openai")
	setString(&cfg.LLM.APIKey, "GEMINI_API_KEY", cfg.LLM.Provider == "gemini")
	setString(&cfg.LLM.BaseURL, "OLLAMA_HOST", cfg.LLM.Provider == "ollama")
	setString(&cfg.Search.APIKey, "GOOGLE_API_KEY", true)
	setString(&cfg.Search.EngineID, "GOOGLE_SEARCH_ENGINE_ID", true)
	setString(&cfg.Storage.MongoURI, "MONGODB_URI", true)
	setString(&cfg.Storage.PostgresDSN, "DATABASE_URL", true)
	setString(&cfg.Server.FrontendURL, "FRONTEND_URL", true)
	setString(&cfg.Client.ServerURL, "PARENTING_SERVER_URL", true)
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

func setString(dst *string, key string, applies bool) {
	if !applies {
		return
	}
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
