package disbursement

import (
	"regexp"
	"strings"

	"github.com/cassiomorais/disbursements/internal/domain/errors"
)

// Mode selects the disbursement backend.
type Mode string

const (
	ModeDisabled  Mode = ""
	ModeHostedAPI Mode = "hosted_api"
	ModeNodeRPC   Mode = "node_rpc"
)

// BackendConfig is loaded fresh for every disbursement attempt and passed down the call chain.
type BackendConfig struct {
	Mode        Mode
	APIKey      string
	RPCHost     string
	RPCUser     string
	RPCPass     string
	AdminEmails []string
}

// Enabled reports whether a disbursement mode is selected at all.
func (c BackendConfig) Enabled() bool {
	return c.Mode != ModeDisabled
}

// Validate checks that the credentials required by the selected mode are present.
// A disabled configuration is valid; callers check Enabled first.
func (c BackendConfig) Validate() error {
	switch c.Mode {
	case ModeDisabled:
		return nil
	case ModeHostedAPI:
		if c.APIKey == "" {
			return errors.NewConfigurationError("no hosted API key provided", "api_key")
		}
		return nil
	case ModeNodeRPC:
		var missing []string
		if c.RPCHost == "" {
			missing = append(missing, "rpc_host")
		}
		if c.RPCUser == "" {
			missing = append(missing, "rpc_user")
		}
		if c.RPCPass == "" {
			missing = append(missing, "rpc_pass")
		}
		if len(missing) > 0 {
			return errors.NewConfigurationError("node RPC host, user or password not configured", missing...)
		}
		return nil
	default:
		return errors.NewDomainError("unknown_mode", "unknown disbursement mode "+string(c.Mode), errors.ErrUnknownMode)
	}
}

// HasAuthoritativeValidation reports whether addresses can be checked by the backend itself.
func (c BackendConfig) HasAuthoritativeValidation() bool {
	return c.Mode == ModeNodeRPC
}

var whitespace = regexp.MustCompile(`\s+`)

// ParseAdminEmails splits a comma separated recipient list after removing all whitespace.
func ParseAdminEmails(raw string) []string {
	raw = whitespace.ReplaceAllString(raw, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
