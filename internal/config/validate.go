package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/toolrelay/toolrelay/internal/config/tool"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules that span fields: every
// server id is unique, stdio servers name a command and websocket servers
// a url.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe), fe.Tag()))
		}
	}

	seen := make(map[string]int, len(c.Servers))
	for i, s := range c.Servers {
		if j, dup := seen[s.ID]; dup && s.ID != "" {
			errs = append(errs, fmt.Errorf("servers[%d].id: %q already used by servers[%d]", i, s.ID, j))
		}
		seen[s.ID] = i

		switch s.TransportKind() {
		case tool.TransportStdio:
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("servers[%d].command: required for stdio server %q", i, s.ID))
			}
		case tool.TransportWebsocket:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("servers[%d].url: required for websocket server %q", i, s.ID))
			}
		}
	}
	return errors.Join(errs...)
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
