// Package batch validates and creates batch aggregates, the single gate
// past which no further quota, rights, or parameter validation occurs.
package batch

import (
	"fmt"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
)

// QuotaPolicy reports quota violations for a batch snapshot.
type QuotaPolicy interface {
	Violations(b *model.Batch) []model.ConstraintViolation
}

// RightsPolicy reports rights violations for a batch snapshot.
type RightsPolicy interface {
	Violations(b *model.Batch) []model.ConstraintViolation
}

// Checker validates a batch against quota, rights, and parameter
// constraints. All three sub-checks always run; their violations are
// concatenated in that order so the caller sees every reason at once.
// Checking has no side effects.
type Checker struct {
	quota    QuotaPolicy
	rights   RightsPolicy
	registry *process.Registry
}

// NewChecker creates a checker from the given policies and registry.
func NewChecker(quota QuotaPolicy, rights RightsPolicy, registry *process.Registry) *Checker {
	return &Checker{quota: quota, rights: rights, registry: registry}
}

// Check returns every constraint violation of the batch. An empty result
// means the batch is acceptable.
func (c *Checker) Check(b *model.Batch) []model.ConstraintViolation {
	var violations []model.ConstraintViolation
	violations = append(violations, c.quota.Violations(b)...)
	violations = append(violations, c.rights.Violations(b)...)
	violations = append(violations, c.checkParameters(b)...)
	return violations
}

// checkParameters verifies that every parameter the process declares
// required is present and non-empty.
func (c *Checker) checkParameters(b *model.Batch) []model.ConstraintViolation {
	proc, ok := c.registry.FindByName(b.ProcessName)
	if !ok {
		// Process resolution failures are reported as not-found by the
		// service before checking; reaching here means the registry changed
		// under us, so report it as a parameter constraint.
		return []model.ConstraintViolation{{
			Category: model.CategoryParameters,
			Message:  fmt.Sprintf("process %q is not registered", b.ProcessName),
		}}
	}

	var violations []model.ConstraintViolation
	for _, name := range proc.RequiredParameters {
		if b.Parameters[name] == "" {
			violations = append(violations, model.ConstraintViolation{
				Category: model.CategoryParameters,
				Message:  fmt.Sprintf("required parameter %q is missing", name),
			})
		}
	}
	return violations
}

// SizeQuotaPolicy bounds the total declared input size and file count of a
// batch. Zero limits are unlimited.
type SizeQuotaPolicy struct {
	MaxTotalBytes int64
	MaxFiles      int
}

// Violations implements QuotaPolicy.
func (p SizeQuotaPolicy) Violations(b *model.Batch) []model.ConstraintViolation {
	var violations []model.ConstraintViolation

	if p.MaxTotalBytes > 0 {
		if total := b.TotalInputBytes(); total > p.MaxTotalBytes {
			violations = append(violations, model.ConstraintViolation{
				Category: model.CategoryQuota,
				Message: fmt.Sprintf("total input size %d bytes exceeds the %d byte quota",
					total, p.MaxTotalBytes),
			})
		}
	}
	if p.MaxFiles > 0 {
		if n := b.FileCount(); n > p.MaxFiles {
			violations = append(violations, model.ConstraintViolation{
				Category: model.CategoryQuota,
				Message:  fmt.Sprintf("%d input files exceed the %d file quota", n, p.MaxFiles),
			})
		}
	}
	return violations
}

// RoleRightsPolicy allows batch creation only for the listed user roles.
// An empty list allows every role.
type RoleRightsPolicy struct {
	AllowedRoles []string
}

// Violations implements RightsPolicy.
func (p RoleRightsPolicy) Violations(b *model.Batch) []model.ConstraintViolation {
	if len(p.AllowedRoles) == 0 {
		return nil
	}
	for _, role := range p.AllowedRoles {
		if b.UserRole == role {
			return nil
		}
	}
	return []model.ConstraintViolation{{
		Category: model.CategoryRights,
		Message:  fmt.Sprintf("role %q may not run process %q", b.UserRole, b.ProcessName),
	}}
}
