// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fmt"

	"stream-resolver-go/pkg/challenge"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config     *config.Config
	Log        *logging.Logger
	Endpoints  *endpoint.Manager
	Extraction *services.ExtractionService
	Registry   *registry.ExtractorRegistry
	Challenge  *challenge.Engine
	BaseURL    string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: fmt.Sprintf("http://localhost:%d", cfg.Port),
	}
}

// WithEndpoints sets the endpoint manager.
func (c *Context) WithEndpoints(m *endpoint.Manager) *Context {
	c.Endpoints = m
	return c
}

// WithExtraction sets the extraction service and the registry behind it.
func (c *Context) WithExtraction(s *services.ExtractionService, r *registry.ExtractorRegistry) *Context {
	c.Extraction = s
	c.Registry = r
	return c
}

// WithChallenge sets the challenge engine.
func (c *Context) WithChallenge(e *challenge.Engine) *Context {
	c.Challenge = e
	return c
}
