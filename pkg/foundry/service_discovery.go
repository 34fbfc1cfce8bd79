package foundry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Services holds the base URLs the enricher calls.
type Services struct {
	APIGateway string
}

// discoveryFile is the compute-module service discovery document: every service
// id maps to a list of base URLs, of which the first is used. Only the API
// gateway matters here.
//
//	api_gateway:
//	  - https://<stack>.palantirfoundry.com/api
type discoveryFile struct {
	APIGateway []string `yaml:"api_gateway"`
}

func loadServicesFromDiscoveryFile(path string) (Services, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read %s file: %w", envServiceDiscovery, err)
	}
	var doc discoveryFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Services{}, fmt.Errorf("parse %s: %w", envServiceDiscovery, err)
	}
	for _, u := range doc.APIGateway {
		if u = strings.TrimSpace(u); u != "" {
			return Services{APIGateway: u}, nil
		}
	}
	return Services{}, fmt.Errorf("%s missing api_gateway", envServiceDiscovery)
}
