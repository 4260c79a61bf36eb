package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

var semverRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)

func TestVersion_Format(t *testing.T) {
	if !semverRegex.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver", Version)
	}
}

func TestContractVersion_Format(t *testing.T) {
	if !semverRegex.MatchString(ContractVersion) {
		t.Errorf("ContractVersion %q is not a valid semver", ContractVersion)
	}
}
