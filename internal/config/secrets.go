package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, the secret is read from that file path and
// takes precedence over envName itself. Returns an empty string if neither
// is set.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// Credentials is the HTTP basic auth pair guarding the gateway.
type Credentials struct {
	User     string
	Password string
}

// Enabled reports whether both halves are set.
func (c Credentials) Enabled() bool {
	return c.User != "" && c.Password != ""
}

// AdminCredentials resolves WORKBENCH_ADMIN_USER and WORKBENCH_ADMIN_PASS.
// Setting only one of them is an error.
func AdminCredentials() (Credentials, error) {
	return credentials("WORKBENCH_ADMIN")
}

// OperatorCredentials resolves WORKBENCH_OPERATOR_USER and
// WORKBENCH_OPERATOR_PASS.
func OperatorCredentials() (Credentials, error) {
	return credentials("WORKBENCH_OPERATOR")
}

func credentials(prefix string) (Credentials, error) {
	user, err := ResolveSecret(prefix + "_USER")
	if err != nil {
		return Credentials{}, err
	}
	pass, err := ResolveSecret(prefix + "_PASS")
	if err != nil {
		return Credentials{}, err
	}
	if (user == "") != (pass == "") {
		return Credentials{}, fmt.Errorf("%s_USER and %s_PASS must be set together", prefix, prefix)
	}
	return Credentials{User: user, Password: pass}, nil
}
