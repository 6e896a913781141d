package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
)

// Token prints a development credential. Without actor.id the demo actor
// of the role is used.
func Token(out io.Writer, config *aqm.Config) error {
	secret, _ := config.GetString("auth.jwt.secret")
	if secret == "" {
		return errors.New("auth.jwt.secret is required")
	}

	role := config.GetStringOrDef("actor.role", actorrole.Roles.Restaurant.Code())
	if actorrole.ByName(role) == nil {
		return fmt.Errorf("unknown role %q", role)
	}

	a, _ := actor.DemoFor(role)
	if raw, _ := config.GetString("actor.id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("actor.id: %w", err)
		}
		a = actor.Actor{ID: id, Role: role}
	}

	ttl, err := time.ParseDuration(config.GetStringOrDef("token.ttl", "720h"))
	if err != nil {
		return fmt.Errorf("token.ttl: %w", err)
	}

	token, err := actor.IssueToken(a, secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s %s\n%s\n", a.Role, a.ID, token)
	return nil
}
