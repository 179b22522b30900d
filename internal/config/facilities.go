package config

import (
	"os"

	"parkwise/internal/models"

	yamlv2 "gopkg.in/yaml.v2"
)

type facilitiesFile struct {
	Facilities []models.Facility `yaml:"facilities"`
}

// LoadFacilities reads a standalone facility catalogue.
func LoadFacilities(path string) ([]models.Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file facilitiesFile
	if err := yamlv2.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, err
	}
	return file.Facilities, nil
}
