package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snapcollect/collector/internal/brightdata"
)

// DefaultInputs is used when no inputs file is configured.
func DefaultInputs() []brightdata.Input {
	return []brightdata.Input{{
		URL:     "https://www.perplexity.ai",
		Prompt:  "Automation",
		Country: "US",
	}}
}

type inputsFile struct {
	Inputs []brightdata.Input `yaml:"inputs" validate:"required,min=1,dive"`
}

// LoadInputs reads collection inputs from a YAML file of the form
//
//	inputs:
//	  - url: https://example.com
//	    prompt: Automation
//	    country: US
//
// An empty path returns DefaultInputs.
func LoadInputs(path string) ([]brightdata.Input, error) {
	if path == "" {
		return DefaultInputs(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs file: %w", err)
	}
	return ParseInputs(data)
}

func ParseInputs(data []byte) ([]brightdata.Input, error) {
	var f inputsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse inputs file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid inputs file: %w", err)
	}
	return f.Inputs, nil
}
