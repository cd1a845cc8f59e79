package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RequestProfile holds the fixed parameters every download request is sent with.
type RequestProfile struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mime_type"`
	FileName    string `yaml:"file_name"`
}

// DefaultRequestProfile returns the profile of the application update download.
func DefaultRequestProfile() RequestProfile {
	return RequestProfile{
		Title:       "Downloading My Application Update...",
		Description: "My Application v2.14.20",
		MimeType:    "application/vnd.android.package-archive",
		FileName:    "myApkName.apk",
	}
}

// LoadRequestProfile reads a YAML profile from path. Fields missing from the file keep their
// default values. An empty path returns the defaults.
func LoadRequestProfile(path string) (RequestProfile, error) {
	profile := DefaultRequestProfile()

	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RequestProfile{}, fmt.Errorf("failed to read request profile: %w", err)
	}

	if err := yaml.Unmarshal(data, &profile); err != nil {
		return RequestProfile{}, fmt.Errorf("failed to parse request profile: %w", err)
	}

	if err := profile.Validate(); err != nil {
		return RequestProfile{}, err
	}

	return profile, nil
}

// Validate checks that the profile can produce a download request.
func (p RequestProfile) Validate() error {
	var errs []error

	if p.FileName == "" {
		errs = append(errs, errors.New("file_name is required"))
	}

	if p.MimeType == "" {
		errs = append(errs, errors.New("mime_type is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid request profile: %w", errors.Join(errs...))
	}

	return nil
}
