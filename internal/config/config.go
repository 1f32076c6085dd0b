package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultPort      = 3000
	defaultBindHost  = "0.0.0.0"
	defaultLogDir    = "logs"
	defaultOAuthBase = "https://apis.roblox.com/oauth"
	defaultLinkHosts = "roblox.com"
)

type OAuthConfig struct {
	ClientId     string
	ClientSecret string
	RedirectURI  string
	// BaseURL hosts the provider's /v1/token and /v1/userinfo endpoints.
	BaseURL string
}

type Config struct {
	ServerAddr  string
	DatabaseDSN string
	// ServerURL is the externally visible base URL of this server.
	ServerURL      string
	AllowedOrigins []string
	// LinkAllowedHosts are the hosts message links may point at.
	LinkAllowedHosts []string
	OAuth            OAuthConfig
	// RelaySecret guards the game-relay ingest endpoint. Empty
	// disables the endpoint (all ingest requests rejected).
	RelaySecret string
	LogDir      string
}

// NewConfig builds the configuration from the environment. getenv is
// injectable so tests don't mutate the process environment.
func NewConfig(getenv func(string) string) (*Config, error) {
	port := defaultPort
	if p := getenv("PORT"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 || parsed > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", p)
		}
		port = parsed
	}

	dsn := getenv("DB_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DB_URL cannot be empty")
	}

	logDir := getenv("LOG_DIR")
	if logDir == "" {
		logDir = defaultLogDir
	}

	oauthBase := getenv("OAUTH_BASE_URL")
	if oauthBase == "" {
		oauthBase = defaultOAuthBase
	}

	linkHosts := getenv("LINK_ALLOWED_HOSTS")
	if linkHosts == "" {
		linkHosts = defaultLinkHosts
	}

	return &Config{
		ServerAddr:       fmt.Sprintf("%s:%d", defaultBindHost, port),
		DatabaseDSN:      dsn,
		ServerURL:        getenv("SERVER_URL"),
		AllowedOrigins:   splitList(getenv("ALLOWED_ORIGINS")),
		LinkAllowedHosts: splitList(linkHosts),
		OAuth: OAuthConfig{
			ClientId:     getenv("OAUTH_CLIENT_ID"),
			ClientSecret: getenv("OAUTH_CLIENT_SECRET"),
			RedirectURI:  getenv("OAUTH_REDIRECT_URI"),
			BaseURL:      strings.TrimRight(oauthBase, "/"),
		},
		RelaySecret: getenv("RELAY_SECRET"),
		LogDir:      logDir,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
