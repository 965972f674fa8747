package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Harsh-BH/brewgate/internal/textcodec"
)

// Profile describes how the external tool has been observed to behave.
// None of it is a documented contract, which is why it lives in a file that
// can be adjusted without a rebuild.
type Profile struct {
	OutputName          string   `yaml:"output_name"`
	Watermark           string   `yaml:"watermark"`
	MinOutputBytes      int      `yaml:"min_output_bytes"`
	MaxOutputBytes      int64    `yaml:"max_output_bytes"`
	InputExtension      string   `yaml:"input_extension"`
	InputEncoding       string   `yaml:"input_encoding"`
	OutputEncoding      string   `yaml:"output_encoding"`
	ScratchFiles        []string `yaml:"scratch_files"`
	SyntaxMarkers       []string `yaml:"syntax_markers"`
	MinMarkers          int      `yaml:"min_markers"`
	DependencyPatterns  []string `yaml:"dependency_patterns"`
	SyntaxPatterns      []string `yaml:"syntax_patterns"`
	AcceptDifferentOnly bool     `yaml:"accept_different_only"`
	MinifierDir         string   `yaml:"minifier_dir"`
	MinifierFiles       []string `yaml:"minifier_files"`
	Interpreters        []string `yaml:"interpreters"`
}

// DefaultProfile returns the behavior observed from IronBrew 2.
func DefaultProfile() Profile {
	return Profile{
		OutputName:     "out.lua",
		Watermark:      "IronBrew",
		MinOutputBytes: 100,
		MaxOutputBytes: 32 << 20,
		InputExtension: ".lua",
		InputEncoding:  "utf-8",
		OutputEncoding: "iso-8859-1",
		ScratchFiles:   []string{"t0.lua", "t1.lua", "t2.lua", "t3.lua", "luac.out", "out.lua"},
		SyntaxMarkers:  []string{"local ", "function", "return", "end"},
		MinMarkers:     2,
		DependencyPatterns: []string{
			"not found",
			"no such file or directory",
			"could not load file or assembly",
			"cannot find",
		},
		SyntaxPatterns: []string{
			"syntax",
			"invalid input file",
			"unexpected symbol",
			"unfinished string",
			"expected near",
		},
		MinifierDir:   "Lua/Minifier",
		MinifierFiles: []string{"luasrcdiet.lua", "llex.lua", "lparser.lua", "optlex.lua", "optparser.lua"},
		Interpreters:  []string{"luac", "luajit", "lua"},
	}
}

// LoadProfile reads a YAML profile from path. Keys absent from the file keep
// their default values.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read tool profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse tool profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the profile for values the pipeline cannot work with.
func (p Profile) Validate() error {
	var errs []error
	if p.OutputName == "" {
		errs = append(errs, errors.New("profile: output_name is required"))
	}
	if p.MinOutputBytes < 0 {
		errs = append(errs, errors.New("profile: min_output_bytes must not be negative"))
	}
	if p.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("profile: max_output_bytes must be positive"))
	}
	for _, name := range []string{p.InputEncoding, p.OutputEncoding} {
		if _, err := textcodec.Lookup(name); err != nil {
			errs = append(errs, fmt.Errorf("profile: encoding %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
