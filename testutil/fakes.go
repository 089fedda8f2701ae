// Package testutil provides fakes and fixtures shared by the package tests.
package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/creastat/craftbot/generator"
)

// Script is one scripted completion. Pattern is matched against the system
// prompt and the prompt joined by a newline; an empty pattern matches anything.
type Script struct {
	Pattern  string
	Response string
	Err      error
	// Delay simulates a slow model; it honors context cancellation.
	Delay time.Duration
}

// ScriptedCompleter implements generator.Completer with pattern-matched
// responses. Scripts are repeatable and the first match wins.
type ScriptedCompleter struct {
	mu      sync.Mutex
	scripts []compiledScript
	calls   []generator.CompletionRequest
}

type compiledScript struct {
	Script
	re *regexp.Regexp
}

// NewScriptedCompleter creates an empty ScriptedCompleter.
func NewScriptedCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{}
}

// Add registers a script.
func (c *ScriptedCompleter) Add(s Script) *ScriptedCompleter {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := compiledScript{Script: s}
	if s.Pattern != "" {
		cs.re = regexp.MustCompile(s.Pattern)
	}
	c.scripts = append(c.scripts, cs)
	return c
}

// On answers prompts matching pattern with response.
func (c *ScriptedCompleter) On(pattern, response string) *ScriptedCompleter {
	return c.Add(Script{Pattern: pattern, Response: response})
}

// OnError fails prompts matching pattern with err.
func (c *ScriptedCompleter) OnError(pattern string, err error) *ScriptedCompleter {
	return c.Add(Script{Pattern: pattern, Err: err})
}

// Complete implements generator.Completer.
func (c *ScriptedCompleter) Complete(ctx context.Context, req generator.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	text := req.System + "\n" + req.Prompt
	var match *compiledScript
	for i := range c.scripts {
		if c.scripts[i].re == nil || c.scripts[i].re.MatchString(text) {
			match = &c.scripts[i]
			break
		}
	}
	c.mu.Unlock()

	if match == nil {
		return "", fmt.Errorf("no script matches prompt %.60q", req.Prompt)
	}
	if match.Delay > 0 {
		select {
		case <-time.After(match.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return match.Response, match.Err
}

// Calls returns every request received so far.
func (c *ScriptedCompleter) Calls() []generator.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generator.CompletionRequest(nil), c.calls...)
}

// CallCount returns how many requests matched pattern.
func (c *ScriptedCompleter) CallCount(pattern string) int {
	re := regexp.MustCompile(pattern)
	n := 0
	for _, req := range c.Calls() {
		if re.MatchString(req.System + "\n" + req.Prompt) {
			n++
		}
	}
	return n
}

// FakeImageGenerator implements generator.ImageGenerator.
type FakeImageGenerator struct {
	mu      sync.Mutex
	Image   *generator.Image
	Err     error
	prompts []string
}

// NewFakeImageGenerator returns a generator that always yields a small PNG.
func NewFakeImageGenerator() *FakeImageGenerator {
	return &FakeImageGenerator{
		Image: &generator.Image{Data: PNG(), ContentType: "image/png"},
	}
}

// Generate implements generator.ImageGenerator.
func (g *FakeImageGenerator) Generate(ctx context.Context, prompt string) (*generator.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if g.Err != nil {
		return nil, g.Err
	}
	img := *g.Image
	img.Data = append([]byte(nil), g.Image.Data...)
	return &img, nil
}

// Prompts returns the prompts received so far.
func (g *FakeImageGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// SetError makes subsequent calls fail with err.
func (g *FakeImageGenerator) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Err = err
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
