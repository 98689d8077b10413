// Package parser loads scenario JSON files, applies CLI --set overrides,
// and reads replay trace files.
package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ristlab/netbench/pkg/scenario"
)

// Parser parses scenario files, substituting ${VAR}/$VAR references
// against its own variable table and the process environment.
type Parser struct {
	Variables map[string]string
}

// New creates a new parser with optional variables.
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{Variables: variables}
}

// ParseFile parses a scenario from a JSON file.
func (p *Parser) ParseFile(path string) (*scenario.TestScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return p.Parse(data)
}

// Parse parses a scenario from JSON bytes.
func (p *Parser) Parse(data []byte) (*scenario.TestScenario, error) {
	substituted := p.substituteVariables(string(data))

	var s scenario.TestScenario
	if err := json.Unmarshal([]byte(substituted), &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario JSON: %w", err)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(s.Links) == 0 {
		return nil, fmt.Errorf("links is required and must have at least one entry")
	}

	return &s, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func (p *Parser) substituteVariables(content string) string {
	return varPattern.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if val, ok := p.Variables[name]; ok {
			return val
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

// SetVariable sets a substitution variable.
func (p *Parser) SetVariable(key, value string) {
	p.Variables[key] = value
}

// ParseOverrides parses CLI override strings ("--set key=value").
func ParseOverrides(overrides []string) (map[string]string, error) {
	result := make(map[string]string, len(overrides))
	for _, override := range overrides {
		parts := strings.SplitN(override, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid override format: %s (expected key=value)", override)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("empty key in override: %s", override)
		}
		result[key] = value
	}
	return result, nil
}

// ApplyOverrides applies CLI overrides to a parsed scenario. Supported
// keys: duration_seconds, seed, name.
func ApplyOverrides(s *scenario.TestScenario, overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "duration_seconds":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid duration_seconds override: %w", err)
			}
			s.DurationSeconds = &n

		case "seed":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seed override: %w", err)
			}
			s.Seed = &n

		case "name":
			s.Name = value

		default:
			return fmt.Errorf("unsupported override key: %s", key)
		}
	}
	return nil
}

// TraceEvent is one line of a replay trace file: a DirectionSpec to
// apply at a given offset from scenario start.
type TraceEvent struct {
	TMs  uint64               `json:"t_ms"`
	Spec scenario.DirectionSpec `json:"spec"`
}

// ReadTraceFile reads a line-oriented JSONL replay trace, one
// {"t_ms":...,"spec":{...}} object per line, and validates that t_ms is
// monotonically nondecreasing. A malformed line aborts with an error
// citing the line number, so a bad trace fails scenario start instead
// of surfacing mid-run.
func ReadTraceFile(path string) ([]TraceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var events []TraceEvent
	var lastMs uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev TraceEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("trace file %s: malformed line %d: %w", path, lineNo, err)
		}
		if len(events) > 0 && ev.TMs < lastMs {
			return nil, fmt.Errorf("trace file %s: line %d: t_ms %d is out of order (previous %d)", path, lineNo, ev.TMs, lastMs)
		}
		lastMs = ev.TMs
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace file %s: read error: %w", path, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("trace file %s: no events", path)
	}

	return events, nil
}
