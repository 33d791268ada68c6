package staff

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Roster is the on-disk description of the support team.
type Roster struct {
	Staff []Member `yaml:"staff"`
}

// Seed provides the default team used when no roster file is configured.
func Seed() []Member {
	return []Member{
		{ID: "op-anna", DisplayName: "Анна Смирнова", Role: RoleOperator},
		{ID: "op-igor", DisplayName: "Игорь Петров", Role: RoleOperator},
		{ID: "op-maria", DisplayName: "Мария Кузнецова", Role: RoleOperator},
		{ID: "qc-olga", DisplayName: "Ольга Васильева", Role: RoleQC},
		{ID: "admin", DisplayName: "Администратор", Role: RoleSuperAdmin},
	}
}

// ParseRoster decodes and validates a YAML roster.
func ParseRoster(data []byte) ([]Member, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, errors.Wrap(err, "decode staff roster")
	}

	seen := make(map[string]struct{}, len(roster.Staff))
	for _, member := range roster.Staff {
		if err := member.Validate(); err != nil {
			return nil, errors.Wrapf(err, "staff roster entry %q", member.ID)
		}
		if _, dup := seen[member.ID]; dup {
			return nil, errors.Errorf("staff roster lists %q twice", member.ID)
		}
		seen[member.ID] = struct{}{}
	}
	return roster.Staff, nil
}

// LoadRoster reads the roster at path, falling back to Seed when path is empty.
func LoadRoster(path string) ([]Member, error) {
	if path == "" {
		return Seed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read staff roster %s", path)
	}
	return ParseRoster(data)
}
