package main

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"shipflow/api/internal/auth"
	"shipflow/api/internal/config"
)

const defaultServer = "http://localhost:8787"

type globalFlags struct {
	server string
	actor  string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) serverURL() string {
	if value := strings.TrimSpace(c.flags.server); value != "" {
		return strings.TrimRight(value, "/")
	}
	if value := strings.TrimSpace(os.Getenv("SHIPFLOW_SERVER")); value != "" {
		return strings.TrimRight(value, "/")
	}
	return defaultServer
}

func (c *commandContext) actor() string {
	if value := strings.TrimSpace(c.flags.actor); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("SHIPFLOW_ACTOR"))
}

// bearer returns the explicit token if one was given, otherwise mints one
// for the selected actor.
func (c *commandContext) bearer() (string, error) {
	if value := strings.TrimSpace(c.flags.token); value != "" {
		return value, nil
	}
	if value := strings.TrimSpace(os.Getenv("SHIPFLOW_TOKEN")); value != "" {
		return value, nil
	}
	actor := c.actor()
	if actor == "" {
		return "", errors.New("no credentials: pass --as <actor> or --token")
	}
	return c.mint(actor, 0)
}

func (c *commandContext) mint(actor string, ttl time.Duration) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL()
	}
	return auth.IssueToken([]byte(cfg.JWTSecret), auth.ActorClaims(actor, ttl, time.Now()))
}

func (c *commandContext) client() (*apiClient, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	return newAPIClient(c.serverURL(), token), nil
}
