// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for struct tag checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and coherent.
// Tag-level checks run first, then cross-field rules that tags cannot
// express (period window parsing, lease/quantum ordering).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describeValidationError(err)
	}

	if _, _, err := c.Sync.PeriodWindow(); err != nil {
		return err
	}

	// The lease must outlive a full quantum, otherwise a healthy session's
	// lock can expire mid-run and a timer invocation could overlap it.
	if c.Lock.LeaseTTL <= c.Sync.Quantum {
		return fmt.Errorf("lock.lease_ttl (%s) must exceed sync.quantum (%s)", c.Lock.LeaseTTL, c.Sync.Quantum)
	}

	if !strings.HasPrefix(c.Helpdesk.BaseURL, "http://") && !strings.HasPrefix(c.Helpdesk.BaseURL, "https://") {
		return fmt.Errorf("helpdesk.base_url must start with http:// or https://, got %q", c.Helpdesk.BaseURL)
	}

	return nil
}

// describeValidationError rewrites validator errors into the
// ENV-var-oriented messages operators actually see.
func describeValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	field := namespaceToPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "url":
		return fmt.Errorf("%s must be a valid URL", field)
	case "min", "max":
		return fmt.Errorf("%s is out of range (%s=%s)", field, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

// asValidationErrors is errors.As without the import churn at call sites.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// namespaceToPath converts "Config.Sync.PageSize" to "sync.page_size".
func namespaceToPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the root struct name
	}
	for i, p := range parts {
		parts[i] = camelToSnake(p)
	}
	return strings.Join(parts, ".")
}

// camelToSnake converts PageSize to page_size. Consecutive capitals are
// treated as one word so PeriodID becomes period_id, not period_i_d.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			prevLower := i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z'
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
