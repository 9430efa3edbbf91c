package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Profile is a YAML render profile. Unset fields leave the command-line
// defaults alone; flags given explicitly win over the profile.
type Profile struct {
	Width               int      `yaml:"width" validate:"omitempty,gt=0,lte=16384"`
	Height              int      `yaml:"height" validate:"omitempty,gt=0,lte=16384"`
	BgMap               *bool    `yaml:"bgMap"`
	MapTransparency     *float64 `yaml:"mapTransparency" validate:"omitempty,gte=0,lte=1"`
	LineWidth           float64  `yaml:"lineWidth" validate:"gte=0"`
	Color               string   `yaml:"color"`
	Palette             []string `yaml:"palette" validate:"omitempty,min=1,dive,required"`
	Category            string   `yaml:"category"`
	PointDistanceMeters *float64 `yaml:"pointDistanceMeters" validate:"omitempty,gte=0"`
	FPS                 float64  `yaml:"fps" validate:"gte=0"`
	Duration            float64  `yaml:"duration" validate:"gte=0"`
}

func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := validator.New().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid profile %s: %s fails %q", path, fe.Namespace(), fe.Tag())
		}
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &p, nil
}
