package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/me/ksched/internal/config"
	"github.com/me/ksched/pkg/model"
)

// policyValue is a pflag.Value that only accepts known scheduling policies.
type policyValue struct {
	p *model.Policy
}

var _ pflag.Value = policyValue{}

func newPolicyValue(p *model.Policy) policyValue {
	return policyValue{p: p}
}

func (v policyValue) String() string {
	if v.p == nil {
		return ""
	}
	return string(*v.p)
}

func (v policyValue) Set(s string) error {
	p := model.Policy(s)
	if !p.Valid() {
		return fmt.Errorf("unknown policy %q (want %s or %s)", s, model.PolicyPriority, model.PolicyMLFQS)
	}
	*v.p = p
	return nil
}

func (v policyValue) Type() string { return "policy" }

// clockValue is a pflag.Value for the timer interrupt source.
type clockValue struct {
	c *string
}

func (v clockValue) String() string {
	if v.c == nil {
		return ""
	}
	return *v.c
}

func (v clockValue) Set(s string) error {
	if s != config.ClockVirtual && s != config.ClockWall {
		return fmt.Errorf("unknown clock %q (want %s or %s)", s, config.ClockVirtual, config.ClockWall)
	}
	*v.c = s
	return nil
}

func (v clockValue) Type() string { return "clock" }
