package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

const (
	envServiceDiscovery = "FOUNDRY_SERVICE_DISCOVERY_V2"
	envFoundryURL       = "FOUNDRY_URL"
	envDefaultCAPath    = "DEFAULT_CA_PATH"
	envBuildToken       = "BUILD2_TOKEN"
	envAliasMap         = "RESOURCE_ALIAS_MAP"
)

// DatasetRef points at one dataset branch.
type DatasetRef struct {
	RID    string
	Branch string
}

// BranchOrDefault returns the branch, or DefaultBranch when none is set.
func (r DatasetRef) BranchOrDefault() string {
	return branchOrDefault(r.Branch)
}

// Env is what a dataset run needs from the compute-module environment.
type Env struct {
	Services Services
	// DefaultCAPath is a PEM bundle to trust in addition to the system roots.
	DefaultCAPath string
	Token         string
	Aliases       AliasMap
}

// Alias resolves a RESOURCE_ALIAS_MAP entry.
func (e Env) Alias(name string) (DatasetRef, error) {
	ref, ok := e.Aliases[name]
	if !ok {
		return DatasetRef{}, fmt.Errorf("missing alias %q in %s (have %s)", name, envAliasMap, strings.Join(e.Aliases.Names(), ", "))
	}
	return ref, nil
}

// LoadEnv reads the dataset-mode environment: BUILD2_TOKEN and RESOURCE_ALIAS_MAP
// (both file paths) plus service discovery. Every missing or unreadable setting
// is reported, not just the first.
func LoadEnv() (Env, error) {
	services, svcErr := loadServices()
	token, tokErr := readFileVar(envBuildToken)

	var aliases AliasMap
	raw, aliasErr := readFileVar(envAliasMap)
	if aliasErr == nil {
		if err := json.Unmarshal([]byte(raw), &aliases); err != nil {
			aliasErr = fmt.Errorf("parse %s: %w", envAliasMap, err)
		}
	}
	if err := errors.Join(svcErr, tokErr, aliasErr); err != nil {
		return Env{}, err
	}
	return Env{
		Services:      services,
		DefaultCAPath: strings.TrimSpace(os.Getenv(envDefaultCAPath)),
		Token:         token,
		Aliases:       aliases,
	}, nil
}

func loadServices() (Services, error) {
	if p := strings.TrimSpace(os.Getenv(envServiceDiscovery)); p != "" {
		return loadServicesFromDiscoveryFile(p)
	}
	// Outside a compute module (local harness) the stack URL is enough.
	base := strings.TrimSpace(os.Getenv(envFoundryURL))
	if base == "" {
		return Services{}, fmt.Errorf("%s or %s is required", envServiceDiscovery, envFoundryURL)
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return Services{APIGateway: strings.TrimRight(base, "/") + "/api"}, nil
}

func readFileVar(name string) (string, error) {
	path := strings.TrimSpace(os.Getenv(name))
	if path == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s file: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// AliasMap is the decoded RESOURCE_ALIAS_MAP: alias name to dataset.
type AliasMap map[string]DatasetRef

func (m *AliasMap) UnmarshalJSON(b []byte) error {
	var raw map[string]struct {
		RID    string  `json:"rid"`
		Branch *string `json:"branch"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(AliasMap, len(raw))
	for name, v := range raw {
		ref := DatasetRef{RID: strings.TrimSpace(v.RID)}
		if ref.RID == "" {
			return fmt.Errorf("alias %q: rid is required", name)
		}
		if v.Branch != nil {
			ref.Branch = strings.TrimSpace(*v.Branch)
		}
		out[name] = ref
	}
	*m = out
	return nil
}

// Names lists the aliases in sorted order.
func (m AliasMap) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
