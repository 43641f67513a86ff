package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.FrontendURL == "" {
		cfg.Server.FrontendURL = "http://localhost:3000"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.Model = "gemini-2.0-flash"
		case "ollama":
			cfg.LLM.Model = "llama3.1"
		default:
			cfg.LLM.Model = "gpt-3.5-turbo"
		}
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "google"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".parenting/conversations.db"
	}
	if cfg.Storage.MongoDatabase == "" {
		cfg.Storage.MongoDatabase = "parenting"
	}
	if cfg.Storage.RecallIndexPath == "" {
		cfg.Storage.RecallIndexPath = ".parenting/recall.bleve"
	}
	if cfg.Ask.KeywordTimeout == 0 {
		cfg.Ask.KeywordTimeout = 10 * time.Second
	}
	if cfg.Ask.SearchTimeout == 0 {
		cfg.Ask.SearchTimeout = 10 * time.Second
	}
	if cfg.Ask.TitleTimeout == 0 {
		cfg.Ask.TitleTimeout = 10 * time.Second
	}
	if cfg.Ask.AnswerTimeout == 0 {
		cfg.Ask.AnswerTimeout = 2 * time.Minute
	}
	if cfg.Ask.FollowUpTimeout == 0 {
		cfg.Ask.FollowUpTimeout = 15 * time.Second
	}
	if cfg.Ask.PersistTimeout == 0 {
		cfg.Ask.PersistTimeout = 10 * time.Second
	}
	// Retries defaults to 1 when unset (nil).
	if cfg.Ask.Retries == nil {
		one := 1
		cfg.Ask.Retries = &one
	}
	if cfg.Ask.CitationCacheSize == 0 {
		cfg.Ask.CitationCacheSize = 256
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://localhost:5000"
	}
	if cfg.Client.IdentityPath == "" {
		cfg.Client.IdentityPath = ".parenting/identity"
	}
	if cfg.Client.Style == "" {
		cfg.Client.Style = "auto"
	}
}
