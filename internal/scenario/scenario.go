// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package scenario loads and runs YAML scenarios: sequences of desired
// request sets that the httpsync command feeds to a Manager while
// printing every progress event it relays.
//
// A scenario looks like this:
//
//	name: search as you type
//	rate_limit:
//	  prefixes:
//	    search/: 300ms
//	steps:
//	  - desired:
//	      search/box: {url: "https://example.com/search?q=h"}
//	  - desired:
//	      search/box: {url: "https://example.com/search?q=he"}
//	      profile:
//	        url: https://example.com/me
//	        select: name.first
//	    await: [search/box, profile]
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gogama/httpsync"
	"github.com/gogama/httpsync/ratelimit"
	"github.com/gogama/httpsync/request"
	"gopkg.in/yaml.v3"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name      string    `yaml:"name"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Steps     []Step    `yaml:"steps"`

	dir string
}

// RateLimit configures which trackers are rate limited. Durations use
// time.ParseDuration syntax.
type RateLimit struct {
	// Cooldown applies to every tracker not matched otherwise.
	Cooldown string `yaml:"cooldown"`
	// Trackers gives individual trackers their own cooldown.
	Trackers map[string]string `yaml:"trackers"`
	// Prefixes gives trackers whose id starts with a key that key's
	// cooldown. The longest matching prefix wins.
	Prefixes map[string]string `yaml:"prefixes"`
}

// A Step declares the complete desired set at one point in time.
type Step struct {
	Name    string             `yaml:"name"`
	Desired map[string]Request `yaml:"desired"`
	// Send lists untracked requests fired once during the step. The
	// step waits for all of them to finish.
	Send []Request `yaml:"send"`
	// Wait is how long to keep relaying events before the next step.
	Wait string `yaml:"wait"`
	// Await lists trackers whose Done event must arrive before the
	// next step.
	Await []string `yaml:"await"`
}

// Request describes one HTTP request.
type Request struct {
	Method      string   `yaml:"method"`
	URL         string   `yaml:"url"`
	Headers     []Header `yaml:"headers"`
	Body        *Body    `yaml:"body"`
	Timeout     string   `yaml:"timeout"`
	Credentials bool     `yaml:"credentials"`
	// Select is a GJSON path. When set, the response must be JSON and
	// the selected value is the result.
	Select string `yaml:"select"`
}

// Header is one request header field.
type Header struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Body is a request body. At most one of Text, JSON, and Parts may be
// set.
type Body struct {
	MIME  string `yaml:"mime"`
	Text  string `yaml:"text"`
	JSON  string `yaml:"json"`
	Parts []Part `yaml:"parts"`
}

// Part is one multipart form field. File, if set, names a file whose
// content is sent, relative to the scenario file.
type Part struct {
	Name     string `yaml:"name"`
	Value    string `yaml:"value"`
	File     string `yaml:"file"`
	Filename string `yaml:"filename"`
	MIME     string `yaml:"mime"`
}

// Load reads and validates the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// Parse parses and validates scenario YAML. Relative file paths in
// multipart bodies resolve against the working directory.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	if _, err := sc.Policy(0); err != nil {
		return err
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if _, err := parseDuration(step.Wait); err != nil {
			return fmt.Errorf("step %d: parse wait: %w", i+1, err)
		}
		for _, id := range sortedKeys(step.Desired) {
			if id == "" {
				return fmt.Errorf("step %d: empty tracker id", i+1)
			}
			if err := step.Desired[id].validate(); err != nil {
				return fmt.Errorf("step %d: tracker %q: %w", i+1, id, err)
			}
		}
		for j, r := range step.Send {
			if err := r.validate(); err != nil {
				return fmt.Errorf("step %d: send %d: %w", i+1, j+1, err)
			}
		}
	}
	return nil
}

// Trackers returns the sorted ids of every tracker any step desires.
func (sc *Scenario) Trackers() []string {
	seen := make(map[string]bool)
	for _, step := range sc.Steps {
		for id := range step.Desired {
			seen[id] = true
		}
	}
	return sortedKeys(seen)
}

// Policy builds the rate limit policy. Trackers matched by nothing in
// the scenario get fallback, unless the scenario sets its own
// cooldown.
func (sc *Scenario) Policy(fallback time.Duration) (ratelimit.Policy, error) {
	rl := sc.RateLimit
	cooldown, err := parseDuration(rl.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("parse rate_limit.cooldown: %w", err)
	}
	if rl.Cooldown == "" {
		cooldown = fallback
	}
	p := ratelimit.Uniform(cooldown)

	// Shorter prefixes are wrapped first, so longer ones are consulted
	// first.
	prefixes := sortedKeys(rl.Prefixes)
	sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i]) < len(prefixes[j]) })
	for _, prefix := range prefixes {
		d, err := parseDuration(rl.Prefixes[prefix])
		if err != nil {
			return nil, fmt.Errorf("parse rate_limit.prefixes[%q]: %w", prefix, err)
		}
		p = ratelimit.Prefix(prefix, d, p)
	}

	if len(rl.Trackers) > 0 {
		m := make(map[string]time.Duration, len(rl.Trackers))
		for id, s := range rl.Trackers {
			d, err := parseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("parse rate_limit.trackers[%q]: %w", id, err)
			}
			m[id] = d
		}
		exact, next := ratelimit.PerTracker(m), p
		p = ratelimit.PolicyFunc(func(tracker string) time.Duration {
			if _, ok := m[tracker]; ok {
				return exact.Cooldown(tracker)
			}
			return next.Cooldown(tracker)
		})
	}
	return p, nil
}

// Set builds the desired set of step i.
func (sc *Scenario) Set(i int) (httpsync.Set, error) {
	step := sc.Steps[i]
	set := make(httpsync.Set, len(step.Desired))
	for _, id := range sortedKeys(step.Desired) {
		d, err := step.Desired[id].descriptor(sc.dir)
		if err != nil {
			return nil, fmt.Errorf("step %d: tracker %q: %w", i+1, id, err)
		}
		d.Tracker = id
		set[id] = d
	}
	return set, nil
}

// Sends builds the untracked descriptors of step i.
func (sc *Scenario) Sends(i int) ([]*request.Descriptor, error) {
	step := sc.Steps[i]
	ds := make([]*request.Descriptor, 0, len(step.Send))
	for j, r := range step.Send {
		d, err := r.descriptor(sc.dir)
		if err != nil {
			return nil, fmt.Errorf("step %d: send %d: %w", i+1, j+1, err)
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func (r Request) validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if _, err := parseDuration(r.Timeout); err != nil {
		return fmt.Errorf("parse timeout: %w", err)
	}
	if b := r.Body; b != nil {
		n := 0
		for _, set := range []bool{b.Text != "", b.JSON != "", len(b.Parts) > 0} {
			if set {
				n++
			}
		}
		if n > 1 {
			return errors.New("body sets more than one of text, json and parts")
		}
	}
	return nil
}

func (r Request) descriptor(dir string) (*request.Descriptor, error) {
	timeout, err := parseDuration(r.Timeout)
	if err != nil {
		return nil, err
	}
	d := &request.Descriptor{
		Method:                      r.Method,
		URL:                         r.URL,
		Timeout:                     timeout,
		AllowCrossOriginCredentials: r.Credentials,
	}
	for _, h := range r.Headers {
		d.Headers = append(d.Headers, request.NewHeader(h.Name, h.Value))
	}
	if r.Body != nil {
		if d.Body, err = r.Body.body(dir); err != nil {
			return nil, err
		}
	}
	if r.Select != "" {
		d.Interpreter = request.JSONPath(r.Select)
	}
	return d, nil
}

func (b *Body) body(dir string) (request.Body, error) {
	switch {
	case b.JSON != "":
		return request.JSONBody(b.JSON), nil
	case b.Text != "":
		mime := b.MIME
		if mime == "" {
			mime = "text/plain; charset=utf-8"
		}
		return request.StringBody(mime, b.Text), nil
	case len(b.Parts) > 0:
		parts := make([]request.Part, 0, len(b.Parts))
		for _, p := range b.Parts {
			if p.File == "" {
				parts = append(parts, request.StringPart(p.Name, p.Value))
				continue
			}
			path := p.File
			if !filepath.IsAbs(path) && dir != "" {
				path = filepath.Join(dir, path)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return request.Body{}, fmt.Errorf("read part %q: %w", p.Name, err)
			}
			filename := p.Filename
			if filename == "" {
				filename = filepath.Base(p.File)
			}
			parts = append(parts, request.FilePart(p.Name, filename, p.MIME, content))
		}
		return request.MultipartBody(parts...), nil
	default:
		return request.EmptyBody(), nil
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
