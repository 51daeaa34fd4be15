package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aigoflow/designgen-service/internal/models"
)

// inputFlags are shared by generate and submit.
type inputFlags struct {
	file         string
	description  string
	brandName    string
	industry     string
	mood         []string
	primaryColor string
	framework    string
	darkMode     bool
	temperature  float64
	maxTokens    int
}

func (f *inputFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "Read the input from a YAML or JSON file (- for stdin)")
	fl.StringVarP(&f.description, "description", "d", "", "What the product is and how it should feel")
	fl.StringVar(&f.brandName, "brand", "", "Brand name")
	fl.StringVar(&f.industry, "industry", "", "Industry")
	fl.StringSliceVar(&f.mood, "mood", nil, "Mood keywords (repeatable or comma separated)")
	fl.StringVar(&f.primaryColor, "primary-color", "", "Preferred primary color as hex")
	fl.StringVar(&f.framework, "framework", "", "Target framework: react, vue, svelte, angular, html")
	fl.BoolVar(&f.darkMode, "dark-mode", false, "Include a dark mode palette")
	fl.Float64Var(&f.temperature, "temperature", 0, "Sampling temperature (0 uses the configured default)")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 uses the configured default)")
}

// build reads the file, if any, and lets explicit flags override it.
func (f *inputFlags) build(cmd *cobra.Command) (models.DesignInput, error) {
	var input models.DesignInput
	if f.file != "" {
		var err error
		input, err = readInputFile(f.file, cmd.InOrStdin())
		if err != nil {
			return input, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("description") {
		input.Description = f.description
	}
	if fl.Changed("brand") {
		input.BrandName = f.brandName
	}
	if fl.Changed("industry") {
		input.Industry = f.industry
	}
	if fl.Changed("mood") {
		input.Mood = f.mood
	}
	if fl.Changed("primary-color") {
		input.PrimaryColor = f.primaryColor
	}
	if fl.Changed("framework") {
		input.Framework = f.framework
	}
	if fl.Changed("dark-mode") {
		input.DarkMode = f.darkMode
	}
	if fl.Changed("temperature") {
		input.Options.Temperature = f.temperature
	}
	if fl.Changed("max-tokens") {
		input.Options.MaxTokens = f.maxTokens
	}
	return input, nil
}

// readInputFile decodes YAML, which also accepts JSON documents.
func readInputFile(path string, stdin io.Reader) (models.DesignInput, error) {
	var input models.DesignInput

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return input, fmt.Errorf("read input: %w", err)
	}

	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &input)
	} else {
		err = yaml.Unmarshal(data, &input)
	}
	if err != nil {
		return input, fmt.Errorf("decode input %s: %w", path, err)
	}
	return input, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
