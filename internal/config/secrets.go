package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***", for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Auth.JWTSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value cannot alias the original.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
